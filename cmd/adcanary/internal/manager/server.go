// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package manager is the rollback-manager surface of a canary run: a
// small local HTTP daemon that exposes the run's state, accepts manual
// rollback requests, and serves Prometheus metrics.
//
// The daemon exists so an operator (or a pager script) can kill a
// misbehaving canary without hunting for the right terminal. It binds
// localhost by default; anyone who can reach it is trusted.
package manager

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peakform/adcanary/cmd/adcanary/internal/rollback"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/logging"
)

// DefaultAddr is where the manager listens unless told otherwise.
const DefaultAddr = "127.0.0.1:8412"

// =============================================================================
// Run Control Interface
// =============================================================================

// RunControl is what the manager needs from an in-flight run. The
// orchestrator satisfies it.
type RunControl interface {
	RunID() string
	State() safety.RunState
	History() []rollback.Record
	ManualRollback(ctx context.Context, reason string) (rollback.Record, error)
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	RunID     string            `json:"run_id"`
	State     safety.RunState   `json:"state"`
	Terminal  bool              `json:"terminal"`
	Rollbacks []rollback.Record `json:"rollbacks"`
}

// ManualRollbackRequest is the /manual-rollback body.
type ManualRollbackRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// Server
// =============================================================================

// Server is the rollback-manager HTTP daemon for one run.
type Server struct {
	addr   string
	run    RunControl
	logger *logging.Logger

	http     *http.Server
	shutdown chan struct{}
	stopOnce sync.Once
}

// NewServer wires the daemon to a run. An empty addr uses DefaultAddr.
func NewServer(addr string, run RunControl, logger *logging.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{addr: addr, run: run, logger: logger, shutdown: make(chan struct{})}
}

// Handler builds the gin engine. Exposed for tests.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/status", s.handleStatus)
	r.POST("/manual-rollback", s.handleManualRollback)
	r.POST("/shutdown", s.handleShutdown)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Serve blocks until the context is cancelled or /shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info("rollback manager listening", "addr", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-s.shutdown:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	state := s.run.State()
	rollbacks := s.run.History()
	if rollbacks == nil {
		rollbacks = []rollback.Record{}
	}
	c.JSON(http.StatusOK, StatusResponse{
		RunID:     s.run.RunID(),
		State:     state,
		Terminal:  state.Terminal(),
		Rollbacks: rollbacks,
	})
}

func (s *Server) handleManualRollback(c *gin.Context) {
	// An empty body is fine (default reason); a malformed one is not.
	var req ManualRollbackRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
	}

	record, err := s.run.ManualRollback(c.Request.Context(), req.Reason)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.logger.Warn("manual rollback executed via manager", "record_id", record.ID)
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleShutdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "shutting down"})
	s.stopOnce.Do(func() { close(s.shutdown) })
}
