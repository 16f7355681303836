package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/c360studio/hitlflow/storage"
	"github.com/c360studio/hitlflow/workflow"
)

// maxBodySize limits checkpoint request bodies.
const maxBodySize = 1 << 20

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body")
		}
		return err
	}
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusForError maps engine and store errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, workflow.ErrMissingSessionID):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrNoPendingDelegation):
		return http.StatusConflict
	case storage.IsStorageError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
