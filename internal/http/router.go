package httpserver

import (
	"context"
	"log"
	"net/http"

	"github.com/iago/feedback-insights/internal/http/handlers"
	"github.com/iago/feedback-insights/internal/http/middleware"
	"github.com/iago/feedback-insights/internal/telemetry"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the operator surface: health, metrics and job endpoints.
// ctx bounds background middleware work.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/v1/jobs", deps.API.Jobs)
	mux.HandleFunc("/v1/jobs/", deps.API.JobStatus)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RPS:   deps.RateLimitRPS,
		Burst: deps.RateLimitBurst,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
