// Package server is the HTTP admin surface of a running kernel: health,
// status, open comms, recent history and prometheus metrics. It never
// touches the wire channels.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/jupyterwire/internal/auth"
	"github.com/danmuck/jupyterwire/internal/config"
	"github.com/danmuck/jupyterwire/internal/kernel"
	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var (
	ErrNoAddr         = errors.New("server: admin address not configured")
	ErrAlreadyServing = errors.New("server: admin already serving")
)

type Config struct {
	Name        string
	Addr        string
	Token       string
	TLS         config.AdminTLS
	CorsOrigins []string
}

// Admin serves one kernel over HTTP.
type Admin struct {
	cfg     Config
	kernel  *kernel.Kernel
	router  *gin.Engine
	started time.Time
	log     zerolog.Logger

	mu     sync.Mutex
	srv    *http.Server
	closed bool
}

func New(k *kernel.Kernel, cfg Config) *Admin {
	if cfg.Name == "" {
		cfg.Name = "kernel"
	}
	observability.RegisterMetrics()
	lg := logging.Component("admin")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(lg, "/health", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if cfg.Token != "" {
		r.Use(auth.Middleware(auth.StaticToken{Token: cfg.Token}, "/health"))
	}

	a := &Admin{
		cfg:     cfg,
		kernel:  k,
		router:  r,
		started: time.Now(),
		log:     lg,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine { return a.router }

// Run listens on the configured address until Shutdown.
func (a *Admin) Run() error {
	if a.cfg.Addr == "" {
		return ErrNoAddr
	}
	l, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return err
	}
	return a.Serve(l)
}

// Serve answers admin requests on l, over TLS when configured, until
// Shutdown.
func (a *Admin) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if a.cfg.TLS.Enabled() {
		tlsCfg, err := serverTLSConfig(a.cfg.TLS)
		if err != nil {
			_ = l.Close()
			return err
		}
		srv.TLSConfig = tlsCfg
		l = tls.NewListener(l, tlsCfg)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return l.Close()
	}
	if a.srv != nil {
		a.mu.Unlock()
		_ = l.Close()
		return ErrAlreadyServing
	}
	a.srv = srv
	a.mu.Unlock()

	a.log.Info().Msgf("server.Admin.Serve addr=%q tls=%t mtls=%t auth=%t", l.Addr(), a.cfg.TLS.Enabled(), a.cfg.TLS.ClientCAFile != "", a.cfg.Token != "")
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Admin) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.srv
	a.closed = true
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:8888"}
	}
	return origins
}
