package httpsvc

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

const requestTimeout = 15 * time.Second

// NewRouter собирает chi-router со стандартным набором middleware
// и маршрутами API.
func NewRouter(handler *Handler, idem func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	handler.Register(r, idem)
	return r
}

// Server — HTTP-сервер API с graceful shutdown.
type Server struct {
	server *http.Server
	logger *log.Entry
}

// NewServer создаёт сервер на addr поверх готового router.
func NewServer(addr string, router http.Handler, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "http-server")
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start запускает сервер. Блокируется до остановки.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("http server started")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server stopping")
	return s.server.Shutdown(ctx)
}
