// Package api implements the HTTP surface: the inbound callback
// endpoint, the appointment/sync operations, and operator streams.
package api

import (
	"context"
	"net/http"
	"strings"

	"examsync/internal/auth"
	"examsync/internal/blob"
	"examsync/internal/callback"
	"examsync/internal/config"
	"examsync/internal/devicelink"
	"examsync/internal/sink"
	"examsync/internal/store"
	"examsync/internal/syncengine"
)

type Server struct {
	Cfg      config.Config
	Store    store.Store
	Blobs    blob.Store
	Pipeline *callback.Pipeline
	Engine   *syncengine.Engine
	Broker   EventBroker
	Auth     *auth.Verifier
}

// NewServer wires every component from the immutable config. With no
// DATABASE_URL the in-memory store is used; with no BLOB_DIR an
// in-memory blob store; with no REDIS_URL the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		_ = sp.MigrateDir("db/migrations")
		s = sp
	}

	var blobs blob.Store
	if strings.TrimSpace(cfg.BlobDir) == "" {
		blobs = blob.NewMemory()
	} else {
		fs, err := blob.NewFS(cfg.BlobDir)
		if err != nil {
			return nil, err
		}
		blobs = fs
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	client := devicelink.NewClient(cfg.Platform)
	sk := sink.New(blobs, s, cfg.StoreTimeout.Std())
	pipe := callback.NewPipeline(callback.NewValidator(cfg.Callback), client, sk)
	engine := syncengine.New(s, client, broker)

	return &Server{
		Cfg:      cfg,
		Store:    s,
		Blobs:    blobs,
		Pipeline: pipe,
		Engine:   engine,
		Broker:   broker,
		Auth:     auth.NewVerifier(cfg.AuthMode, cfg.AuthSecret),
	}, nil
}

// NewSweeper builds the stale-pending sweeper when enabled by config.
func (s *Server) NewSweeper() *syncengine.Worker {
	if s.Cfg.SweepAfter.Std() <= 0 {
		return nil
	}
	return syncengine.NewWorker(s.Engine, s.Cfg.SweepAfter.Std())
}

// getPrincipal extracts the operator identity from the bearer token,
// falling back to dev headers.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return pr
		}
	}
	role := r.Header.Get("X-Role")
	if role == "" {
		role = "admin"
	}
	return auth.Principal{Subject: r.Header.Get("X-Operator"), Role: strings.ToLower(role)}
}

// Ping reports record-store connectivity for readiness checks.
func (s *Server) Ping(ctx context.Context) error {
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		return pg.Ping(ctx)
	}
	return nil
}
