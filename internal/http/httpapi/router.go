package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"dubber/internal/http/handlers"
	"dubber/internal/middleware"
)

// Options tunes the cross-cutting middleware.
type Options struct {
	AllowedOrigins []string
	// RateLimit caps job-mutating requests per client per minute.
	RateLimit int
}

func NewRouter(app *handlers.App, logger zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	limit := middleware.RateLimit(opts.RateLimit, time.Minute)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(limit).Post("/", app.CreateJob)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetJob)
			r.Get("/events", app.JobEvents)

			r.Group(func(r chi.Router) {
				r.Use(limit)
				r.Patch("/", app.UpdateJob)
				r.Put("/audio", app.UploadAudio)
				r.Post("/start", app.StartJob)
				r.Post("/reprocess", app.Reprocess)
				r.Post("/stages/{stage}/retry", app.RetryStage)
			})
		})
	})

	return r
}
