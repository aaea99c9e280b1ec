// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package admin exposes the scheduler's stats and command registry over
// HTTP, the supplemented operator surface: no router library is present
// anywhere in the example pack, so the handlers are wired directly on
// net/http's own mux.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/codeactual/cmdsched/internal/scheduler"

	cage_zap "github.com/codeactual/cmdsched/internal/cage/log/zap"
)

// addRequest is the POST /commands body.
type addRequest struct {
	Argv       []string `json:"argv"`
	AllDevices bool     `json:"all_devices"`
}

// Server exposes GET /stats, GET /commands, and POST /commands.
type Server struct {
	log *zap.Logger
	sch *scheduler.Scheduler
	srv *http.Server
}

// New returns a Server bound to addr. Call Start to begin serving.
func New(log *zap.Logger, sch *scheduler.Scheduler, addr string) *Server {
	s := &Server{log: log.With(cage_zap.Tag("admin")), sch: sch}

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/commands", s.handleCommands)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start blocks serving until Stop is called, mirroring http.Server.ListenAndServe.
func (s *Server) Start() error {
	s.log.Info("admin listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "admin server exited")
	}
	return nil
}

// Stop gracefully shuts the server down within the given timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Wrap(s.srv.Shutdown(ctx), "failed to shut down admin server")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.sch.Stats.Snapshot()); err != nil {
		s.log.Error("failed to encode stats response", zap.Error(err))
	}
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.sch.Snapshot()); err != nil {
			s.log.Error("failed to encode commands response", zap.Error(err))
		}
	case http.MethodPost:
		var req addRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Argv) == 0 {
			http.Error(w, "argv must not be empty", http.StatusBadRequest)
			return
		}

		if req.AllDevices {
			ids, err := s.sch.AddForAllDevices(req.Argv, "")
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(ids) //nolint:errcheck
			return
		}

		_, id, err := s.sch.Add(req.Argv, "")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"id": id}) //nolint:errcheck
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
