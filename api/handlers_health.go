package api

import (
	"context"
	"net/http"
	"time"

	"github.com/c360studio/hitlflow/delegate"
	"github.com/c360studio/hitlflow/workflow"
)

// healthProbeSession is loaded to check the store. Loading an unseen
// session never writes.
const healthProbeSession = "__health"

// DelegateHealth reports per-role delegate health.
type DelegateHealth interface {
	Health() map[delegate.Role]delegate.EndpointHealth
}

type HealthHandler struct {
	engine    *workflow.Engine
	delegates DelegateHealth
}

func NewHealthHandler(engine *workflow.Engine, delegates DelegateHealth) *HealthHandler {
	return &HealthHandler{engine: engine, delegates: delegates}
}

type healthResponse struct {
	Status    string                                     `json:"status"`
	Store     string                                     `json:"store"`
	Message   string                                     `json:"message,omitempty"`
	Delegates map[delegate.Role]delegate.EndpointHealth `json:"delegates,omitempty"`
}

// Health reports 503 when the store is unreachable. An open delegate
// circuit only degrades the status; checkpoints can still be applied.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	if h.delegates != nil {
		resp.Delegates = h.delegates.Health()
		for _, eh := range resp.Delegates {
			if eh.CircuitOpen {
				resp.Status = "degraded"
			}
		}
	}

	if _, err := h.engine.Store().Load(ctx, healthProbeSession); err != nil {
		resp.Status = "degraded"
		resp.Store = "error"
		resp.Message = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
