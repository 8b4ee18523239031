package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Version is reported by GET /api/v1/.
const Version = "0.1.0"

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		// Elicitation
		r.Post("/ask", h.AskUser)
		r.Get("/ask/{id}", h.GetRequest)
		r.Post("/ask/{id}/respond", h.RespondToRequest)

		// Value of information
		r.Post("/voi/evaluate", h.EvaluateVOI)

		// Abstention
		r.Post("/abstention/check", h.CheckAbstention)

		// Batches
		r.Get("/batches/ready", h.ListReadyBatches)
		r.Post("/batches/{id}/close", h.CloseBatch)
		r.Post("/batches/{id}/present", h.PresentBatch)

		// Escalations
		r.Get("/escalations/chains", h.ListChains)
		r.Post("/escalations/chains", h.CreateChain)
		r.Post("/escalations/{id}/escalate", h.EscalateRequest)
	})
}
