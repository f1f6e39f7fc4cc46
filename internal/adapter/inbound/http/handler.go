// Package http provides the HTTP transport adapter for the verification
// gateway: the /verify decision endpoint, health probes, and the Prometheus
// exposition endpoint.
package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/casf-health/verifier/internal/domain/verify"
	"github.com/casf-health/verifier/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// errorResponse is the JSON body for malformed requests. Schema failures are
// transport errors (HTTP 400), not decisions; they never reach the pipeline
// and are never audited.
type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the gateway's route table.
func NewRouter(svc *service.VerifyService, hc *HealthChecker, metricsHandler http.Handler, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware(logger))

	r.Post("/verify", verifyHandler(svc))
	r.Get("/health", hc.LivenessHandler())
	r.Get("/healthz", hc.ReadinessHandler())
	r.Handle("/metrics", metricsHandler)
	return r
}

var validate = validator.New()

// verifyHandler decodes and validates the request, then hands it to the
// decision pipeline. Both ALLOW and DENY are HTTP 200; only schema failures
// map to 400.
func verifyHandler(svc *service.VerifyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, "request body unreadable or too large")
			return
		}

		var req verify.Request
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				writeError(w, http.StatusBadRequest, "invalid field: "+verrs[0].Namespace())
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}

		resp := svc.Verify(r.Context(), req)
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
