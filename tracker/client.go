package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxBodySize limits how much of a work item response is read.
const maxBodySize = 2 * 1024 * 1024

// ErrNotFound is returned when the tracker has no such work item.
var ErrNotFound = errors.New("work item not found")

// WorkItem is a user story fetched from the tracker. Description and
// acceptance criteria are markdown.
type WorkItem struct {
	ID                 int      `json:"id"`
	Title              string   `json:"title"`
	State              string   `json:"state,omitempty"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	URL                string   `json:"url,omitempty"`
}

// PromptContext renders the work item as text for a delegate prompt.
func (w *WorkItem) PromptContext() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User Story %d: %s\n", w.ID, w.Title)
	if w.State != "" {
		fmt.Fprintf(&sb, "State: %s\n", w.State)
	}
	if w.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(w.Description)
		sb.WriteString("\n")
	}
	if len(w.AcceptanceCriteria) > 0 {
		sb.WriteString("\nAcceptance criteria:\n")
		for _, ac := range w.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", ac)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Fetcher looks up user stories.
type Fetcher interface {
	FetchUserStory(ctx context.Context, id int) (*WorkItem, error)
}

// Config configures a tracker Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// Client fetches work items over the tracker's REST API:
// GET {base_url}/user-stories/{id}.
type Client struct {
	cfg       Config
	http      *http.Client
	converter *converter
	logger    *slog.Logger
}

// NewClient creates a tracker client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: timeout},
		converter: newConverter(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireItem is the tracker's JSON shape. Rich-text fields are HTML and
// acceptance criteria may be a single HTML block or a list.
type wireItem struct {
	ID                 int             `json:"id"`
	Title              string          `json:"title"`
	State              string          `json:"state"`
	Description        string          `json:"description"`
	AcceptanceCriteria json.RawMessage `json:"acceptance_criteria"`
	URL                string          `json:"url"`
}

// FetchUserStory retrieves one user story.
func (c *Client) FetchUserStory(ctx context.Context, id int) (*WorkItem, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/user-stories/" + strconv.Itoa(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user story %d: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read user story %d: %w", id, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("user story %d: %w", id, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch user story %d: HTTP %d: %s", id, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var wi wireItem
	if err := json.Unmarshal(body, &wi); err != nil {
		return nil, fmt.Errorf("decode user story %d: %w", id, err)
	}
	return c.convert(id, wi)
}

func (c *Client) convert(id int, wi wireItem) (*WorkItem, error) {
	item := &WorkItem{
		ID:    wi.ID,
		Title: strings.TrimSpace(wi.Title),
		State: wi.State,
		URL:   wi.URL,
	}
	if item.ID == 0 {
		item.ID = id
	}

	desc, err := c.converter.toMarkdown(wi.Description)
	if err != nil {
		return nil, fmt.Errorf("convert description of user story %d: %w", id, err)
	}
	item.Description = desc

	criteria, err := c.criteria(wi.AcceptanceCriteria)
	if err != nil {
		return nil, fmt.Errorf("convert acceptance criteria of user story %d: %w", id, err)
	}
	item.AcceptanceCriteria = criteria

	c.logger.Debug("Fetched user story", "user_story_id", item.ID, "title", item.Title)
	return item, nil
}

func (c *Client) criteria(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var block string
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, err
		}
		list = []string{block}
	}

	var out []string
	for _, item := range list {
		text, err := c.converter.toMarkdown(item)
		if err != nil {
			return nil, err
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}
