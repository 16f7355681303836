package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectUserStory(t *testing.T) {
	tests := []struct {
		input  string
		wantID int
		wantOK bool
	}{
		{"Analyze user_story 42 for edge cases", 42, true},
		{"USER_STORY_7", 7, true},
		{"see user_story123 and user_story 9", 123, true},
		{"user story 42", 42, true},
		{"User Story: 42", 0, false},
		{"Implement US123 login", 123, true},
		{"cover us-77", 77, true},
		{"fixes #456", 456, true},
		{"story 12 needs tests", 12, true},
		{"Story12", 12, true},
		{"#5 before user_story 9", 5, true},
		{"history 3 of the log", 0, false},
		{"focus 42 users", 0, false},
		{"PROJ-123", 0, false},
		{"Analyze OAuth flow", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, ok := DetectUserStory(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestClient_FetchUserStory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user-stories/42", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 42,
			"title": " Login with SSO ",
			"state": "Active",
			"description": "<div><p>Users sign in with <b>SSO</b>.</p><script>alert(1)</script></div>",
			"acceptance_criteria": ["Given a user", "<p>When they <i>log in</i></p>", ""],
			"url": "https://tracker.example/42"
		}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/api/", Token: "tok"})
	item, err := c.FetchUserStory(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, 42, item.ID)
	assert.Equal(t, "Login with SSO", item.Title)
	assert.Equal(t, "Users sign in with **SSO**.", item.Description)
	assert.NotContains(t, item.Description, "alert")
	assert.Equal(t, []string{"Given a user", "When they _log in_"}, item.AcceptanceCriteria)

	ctx := item.PromptContext()
	assert.Contains(t, ctx, "User Story 42: Login with SSO")
	assert.Contains(t, ctx, "State: Active")
	assert.Contains(t, ctx, "- Given a user")
}

func TestClient_AcceptanceCriteriaBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"T","acceptance_criteria":"<p>All green</p>"}`))
	}))
	defer server.Close()

	item, err := NewClient(Config{BaseURL: server.URL}).FetchUserStory(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, item.ID)
	assert.Equal(t, []string{"All green"}, item.AcceptanceCriteria)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{"not found", http.StatusNotFound, "", true},
		{"server error", http.StatusInternalServerError, "", false},
		{"bad json", http.StatusOK, "{", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(Config{BaseURL: server.URL}).FetchUserStory(context.Background(), 1)
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
		})
	}
}

func TestWorkItem_PromptContextMinimal(t *testing.T) {
	w := &WorkItem{ID: 3, Title: "Export"}
	assert.Equal(t, "User Story 3: Export", w.PromptContext())
}
