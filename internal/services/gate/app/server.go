package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/stonevault/gate/internal/services/gate/allowlist"
	"github.com/stonevault/gate/internal/services/gate/api"
	"github.com/stonevault/gate/internal/services/gate/ticket"
)

// Server hosts the gate service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	cache      *allowlist.Cache
	watcher    *allowlist.Watcher
}

// New creates a configured gate server listening on the provided address.
func New(addr string, cfg api.Config) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	loader := &allowlist.Loader{
		FilePath: cfg.AllowlistFile,
		Remote:   cfg.Remote,
	}
	cache := allowlist.NewCache(loader, cfg.RefreshInterval, nil)

	watcher, err := allowlist.NewWatcher(cache, cfg.AllowlistFile)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("watch allowlist file: %w", err)
	}

	codec := ticket.NewCodec(cfg.SigningKey, cfg.TicketIssuer, cfg.TicketAudience, nil)
	tickets := ticket.NewService(cache, codec, cfg.TicketTTL, cfg.PerChannelLists)
	providers := api.Providers{
		Identity: api.NewHTTPProvider(cfg.IdentityURL),
		Friends:  api.NewHTTPProvider(cfg.FriendsURL),
		Presence: api.NewHTTPProvider(cfg.PresenceURL),
	}

	mux := http.NewServeMux()
	api.NewServer(cfg, cache, tickets, providers).RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		cache:      cache,
		watcher:    watcher,
	}, nil
}

// Addr returns the listener address for the gate server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a gate server until the context ends.
func Run(ctx context.Context, addr string, cfg api.Config) error {
	gateServer, err := New(addr, cfg)
	if err != nil {
		return err
	}
	return gateServer.Serve(ctx)
}

// Serve starts the gate server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Warm the policy before accepting traffic so the first request does
	// not pay the load latency.
	s.cache.Get(serverCtx)

	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(serverCtx); err != nil {
				log.Printf("allowlist watcher: %v", err)
			}
		}()
	}

	log.Printf("gate server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		if err := shutdown(); err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}
