// Package server exposes the admin API over HTTP: scheduler lifecycle and
// status, manual update triggering, pending-approval review and ingestion
// history. This is the surface the admin dashboard talks to.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"compdb/internal/ingest"
	"compdb/internal/scheduler"
	"compdb/internal/store"
	logx "compdb/pkg/logx"
)

// Scheduler is the scheduler surface the API needs.
type Scheduler interface {
	Start()
	Stop()
	Status() scheduler.Status
	TriggerManual(ctx context.Context) (*ingest.Result, error)
}

// Ingestion is the review/history surface the API needs.
type Ingestion interface {
	PendingProjects(ctx context.Context, limit int) ([]store.Project, error)
	ApproveProject(ctx context.Context, id int64) (bool, error)
	RejectProject(ctx context.Context, id int64) (bool, error)
	IngestionHistory(ctx context.Context, limit int) ([]store.IngestionJob, error)
}

type Server struct {
	srv *http.Server
	log logx.Logger
}

// New creates a server. The baseCtx is used as the base context for all
// incoming requests (via BaseContext), so cancelling it propagates into
// long-running handlers (notably the blocking manual trigger).
func New(baseCtx context.Context, addr string, sched Scheduler, ing Ingestion, log logx.Logger) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		log: log,
		srv: &http.Server{
			Addr:    addr,
			Handler: NewHandler(sched, ing, log),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadTimeout: 15 * time.Second,
			// Manual triggers block for a full ingestion cycle.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	s.log.Info("admin API listening", logx.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down admin API")
	return s.srv.Shutdown(ctx)
}
