package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yegors/transcribe-gateway/internal/config"
	"github.com/yegors/transcribe-gateway/internal/websocket"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// Router builds the HTTP routes
type Router struct {
	handler  *Handler
	wsServer *websocket.Server // nil when the event stream is disabled
	config   config.ServerConfig
	logger   *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(service Service, jobs JobLedger, wsServer *websocket.Server, cfg config.ServerConfig, log *logger.Logger) *Router {
	return &Router{
		handler:  NewHandler(service, jobs, log),
		wsServer: wsServer,
		config:   cfg,
		logger:   log.Named("router"),
	}
}

// Routes returns the configured handler
func (r *Router) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(r.requestLogger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: r.config.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", r.handler.GetHealth)

	// Routes kept for existing clients
	mux.Get("/save-audio", r.handler.SaveAudio)
	mux.Get("/status", r.handler.GetStatus)

	mux.Route("/api/v1", func(api chi.Router) {
		api.Post("/jobs", r.handler.CreateJob)
		if r.handler.jobs != nil {
			api.Get("/jobs", r.handler.ListJobs)
		}
		api.Get("/jobs/{id}", r.handler.GetJob)
	})

	if r.wsServer != nil {
		mux.Get("/ws", r.wsServer.HandleConnection)
	}

	return mux
}

func (r *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		r.logger.Debug("Request handled",
			logger.String("method", req.Method),
			logger.String("path", req.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(req.Context())))
	})
}
