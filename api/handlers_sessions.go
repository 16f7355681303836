package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/c360studio/hitlflow/workflow"
)

// CheckpointRequest is the body of apply and run requests.
type CheckpointRequest struct {
	Status    string `json:"status"`
	UserInput string `json:"user_input"`
}

// SessionHandler handles checkpoint and history requests.
type SessionHandler struct {
	runner *workflow.Runner
	logger *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(runner *workflow.Runner, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{runner: runner, logger: logger}
}

// Apply handles POST /sessions/{id}/apply. It records the checkpoint and
// returns the decision without calling any delegate.
func (h *SessionHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req CheckpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	d, err := h.runner.Engine().Apply(r.Context(), req.Status, req.UserInput, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Run handles POST /sessions/{id}/run. Delegation failures are reported in
// the outcome body with a 200; the checkpoint itself was saved.
func (h *SessionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req CheckpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	out, err := h.runner.Run(r.Context(), req.Status, req.UserInput, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Retry handles POST /sessions/{id}/retry.
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	out, err := h.runner.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// History handles GET /sessions/{id}/history
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	hist, err := h.runner.Engine().FeedbackHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// Suggestions handles GET /sessions/{id}/suggestions
func (h *SessionHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	s, err := h.runner.Engine().SuggestImprovements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Session request failed",
			"request_id", GetRequestID(r),
			"session_id", chi.URLParam(r, "id"),
			"error", err)
	}
	writeError(w, status, err.Error())
}
