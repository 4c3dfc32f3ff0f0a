// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/api/handlers"
	"github.com/autobrr/torrentdeck/internal/api/middleware"
	"github.com/autobrr/torrentdeck/internal/config"
	"github.com/autobrr/torrentdeck/internal/metrics"
	"github.com/autobrr/torrentdeck/internal/web/swagger"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	controller     handlers.Controller
	activityStore  handlers.ActivityLister
	metricsManager *metrics.Manager
}

type Dependencies struct {
	Config        *config.AppConfig
	Version       string
	Controller    handlers.Controller
	ActivityStore handlers.ActivityLister
	// MetricsManager is nil when metrics are disabled
	MetricsManager *metrics.Manager
}

func NewServer(deps *Dependencies) *Server {
	timeouts := deps.Config.Config.HTTPTimeouts

	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       secondsOr(timeouts.ReadTimeout, 60),
			WriteTimeout:      secondsOr(timeouts.WriteTimeout, 120),
			IdleTimeout:       secondsOr(timeouts.IdleTimeout, 180),
		},
		logger:         log.Logger.With().Str("module", "api").Logger(),
		config:         deps.Config,
		version:        deps.Version,
		controller:     deps.Controller,
		activityStore:  deps.ActivityStore,
		metricsManager: deps.MetricsManager,
	}

	return &s
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// ListenAndServe blocks until the server is shut down
func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := s.config.ListenAddr()

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%s", host, s.baseURL()+"api/docs")

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// baseURL is the configured base URL with a trailing slash
func (s *Server) baseURL() string {
	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	corsMiddleware := cors.New(cors.Options{
		AllowedMethods: []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		AllowOriginFunc: func(origin string) bool {
			return isLoopbackOrigin(origin)
		},
		MaxAge: 300,
	})
	r.Use(corsMiddleware.Handler)

	// event streams must not be buffered by the compressor
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		return nil, fmt.Errorf("create compression adapter: %w", err)
	}

	sessionHandler := handlers.NewSessionHandler(s.controller)
	torrentsHandler := handlers.NewTorrentsHandler(s.controller)
	addHandler := handlers.NewAddHandler(s.controller)
	eventsHandler := handlers.NewEventsHandler(s.controller)
	activityHandler := handlers.NewActivityHandler(s.activityStore)
	healthHandler := handlers.NewHealthHandler(s.controller, s.version)

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.HTTPLogger(s.logger))

	apiRouter.Get("/events", eventsHandler.Stream)

	apiRouter.Group(func(r chi.Router) {
		r.Use(compressor)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.GetSession)
			r.Post("/refresh", sessionHandler.Refresh)
			r.Delete("/notice", sessionHandler.DismissNotice)
		})

		r.Put("/filter", sessionHandler.SetFilter)
		r.Put("/search", sessionHandler.SetSearch)
		r.Put("/sort", sessionHandler.SetSort)

		r.Route("/selection", func(r chi.Router) {
			r.Put("/", sessionHandler.SetSelection)
			r.Delete("/", sessionHandler.ClearSelection)
		})

		r.Route("/menu", func(r chi.Router) {
			r.Post("/", sessionHandler.OpenMenu)
			r.Delete("/", sessionHandler.CloseMenu)
			r.Post("/{action}", sessionHandler.MenuAction)
		})

		r.Route("/torrents", func(r chi.Router) {
			r.Get("/", sessionHandler.ListTorrents)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", torrentsHandler.GetTorrent)
				r.Post("/open", torrentsHandler.OpenFolder)
				r.Post("/{action}", torrentsHandler.Action)
			})
		})

		r.Route("/add", func(r chi.Router) {
			r.Get("/", addHandler.Get)
			r.Post("/", addHandler.Begin)
			r.Delete("/", addHandler.Cancel)
			r.Post("/toggle", addHandler.Toggle)
			r.Put("/path", addHandler.SetDownloadPath)
			r.Post("/confirm", addHandler.Confirm)
		})

		if s.activityStore != nil {
			r.Get("/activity", activityHandler.ListActivity)
		}
	})

	swaggerHandler, err := swagger.NewHandler(s.config.Config.BaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Swagger UI")
	} else if swaggerHandler != nil {
		swaggerHandler.RegisterRoutes(r)
	}

	r.Get("/health", healthHandler.Health)

	metricsHandler := handlers.NewMetricsHandler(s.metricsManager)
	r.Get("/metrics", metricsHandler.ServeMetrics)

	baseURL := s.baseURL()
	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + s.config.Config.BaseURL + " instead of /"))
		})
	}

	return r, nil
}

// isLoopbackOrigin only lets browser pages served from this machine call the API
func isLoopbackOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
