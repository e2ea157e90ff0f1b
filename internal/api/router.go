package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/courseassist/internal/api/handlers"
	"github.com/nikhilbhutani/courseassist/internal/api/middleware"
	"github.com/nikhilbhutani/courseassist/internal/config"
	"github.com/nikhilbhutani/courseassist/internal/document"
	"github.com/nikhilbhutani/courseassist/internal/metrics"
	"github.com/nikhilbhutani/courseassist/internal/tenant"
)

// Service is the core the routes call into; *document.Service satisfies it.
type Service interface {
	handlers.DocumentService
	handlers.QuestionService
}

var _ Service = (*document.Service)(nil)

type Router struct {
	mux    *chi.Mux
	svc    Service
	cfg    config.ServerConfig
	async  bool
	checks map[string]handlers.Check
}

// NewRouter wires svc behind the HTTP surface. checks feed /readyz.
func NewRouter(svc Service, cfg *config.Config, checks map[string]handlers.Check) *Router {
	return &Router{
		mux:    chi.NewRouter(),
		svc:    svc,
		cfg:    cfg.Server,
		async:  cfg.Ingestion.Async,
		checks: checks,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	if rt.cfg.RateLimit > 0 {
		rl := middleware.NewRateLimiter(rt.cfg.RateLimit, rt.cfg.RateBurst)
		r.Use(rl.Limit)
	}

	health := handlers.NewHealthHandler(rt.checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", metrics.Handler())

	docH := handlers.NewDocumentHandler(rt.svc, rt.cfg.MaxUploadMB<<20, rt.async)
	askH := handlers.NewQuestionHandler(rt.svc)

	r.Route("/api/v1/courses/{"+tenant.CourseParam+"}", func(r chi.Router) {
		r.Use(tenant.Scope)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/{filename}", docH.Download)
			r.Get("/{filename}/report", docH.Report)
			r.Delete("/{filename}", docH.Delete)
		})

		r.Post("/questions", askH.Ask)
	})

	return r
}
