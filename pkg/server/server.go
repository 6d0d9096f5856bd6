// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes CALIBER's REST and WebSocket surface under
// /api/v1: entity CRUD, coordination state machines, DSL validation, pack
// inspection, and tool invocation, with every tenant-scoped request keyed by
// the x-tenant-id header.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/checkpoint"
	"github.com/caliberhq/caliber/pkg/config"
	"github.com/caliberhq/caliber/pkg/coordination"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/journal"
	"github.com/caliberhq/caliber/pkg/metrics"
	"github.com/caliberhq/caliber/pkg/pack"
	"github.com/caliberhq/caliber/pkg/ratelimit"
	"github.com/caliberhq/caliber/pkg/tokens"
	"github.com/caliberhq/caliber/pkg/toolgate"
	"github.com/caliberhq/caliber/pkg/vectorindex"
)

// Authenticator checks a request's credentials (X-API-Key or Authorization:
// Bearer). Token validation against an external identity provider is an
// external collaborator; the server only needs pass/fail.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// EntityStores groups the Store[T] implementations the REST surface serves.
// Coordination stores live in coordination.Stores; these are the task-state
// entities.
type EntityStores struct {
	Trajectories coordination.Store[entity.Trajectory]
	Scopes       coordination.Store[entity.Scope]
	Turns        coordination.Store[entity.Turn]
	Artifacts    coordination.Store[entity.Artifact]
	Notes        coordination.Store[entity.Note]
	Agents       coordination.Store[entity.Agent]
	Edges        coordination.Store[entity.Edge]
	Checkpoints  coordination.Store[checkpoint.Record]
}

// NewInMemoryEntityStores builds EntityStores over InMemoryStore, for tests
// and non-durable processes.
func NewInMemoryEntityStores() EntityStores {
	return EntityStores{
		Trajectories: coordination.NewInMemoryStore[entity.Trajectory](),
		Scopes:       coordination.NewInMemoryStore[entity.Scope](),
		Turns:        coordination.NewInMemoryStore[entity.Turn](),
		Artifacts:    coordination.NewInMemoryStore[entity.Artifact](),
		Notes:        coordination.NewInMemoryStore[entity.Note](),
		Agents:       coordination.NewInMemoryStore[entity.Agent](),
		Edges:        coordination.NewInMemoryStore[entity.Edge](),
		Checkpoints:  coordination.NewInMemoryStore[checkpoint.Record](),
	}
}

// Options carries every dependency the server needs. All fields are
// required unless noted; New rejects a missing one rather than defaulting.
type Options struct {
	Addr        string
	Config      *config.Config
	Logger      *slog.Logger
	Journal     journal.Journal
	Fabric      *broadcast.Fabric
	Coordinator *coordination.Coordinator
	Stores      EntityStores
	ActivePacks *pack.ActiveSet
	Gate        *toolgate.Gate
	Metrics     *metrics.Registry

	// Tokens counts turn content when the caller doesn't supply token_count.
	Tokens *tokens.Counter
	// Vectors indexes artifact/note embeddings for similarity search.
	Vectors *vectorindex.Index

	// Authenticator may be nil only when AllowUnauthenticated is set, which
	// exists for tests.
	Authenticator        Authenticator
	AllowUnauthenticated bool

	// RateLimit wraps the whole API when non-nil.
	RateLimit ratelimit.RateLimiter
}

// Server is the CALIBER HTTP server.
type Server struct {
	opts        Options
	router      chi.Router
	http        *http.Server
	ws          *broadcast.Handler
	checkpoints *checkpoint.Manager
}

// New wires the router. Every dependency is checked here so a misconfigured
// process fails at startup, not on first request.
func New(opts Options) (*Server, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	s := &Server{opts: opts}
	s.ws = broadcast.NewHandler(opts.Fabric, s.wsAuthenticator(), opts.Logger)

	manager, err := checkpoint.NewManager(opts.Stores.Checkpoints, opts.Stores.Scopes, opts.Config.CheckpointRetention)
	if err != nil {
		return nil, err
	}
	s.checkpoints = manager

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.RateLimit != nil {
		r.Use(ratelimit.SimpleMiddleware(opts.RateLimit, "/metrics", "/healthz"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Prometheus(), promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Handle("/ws", s.ws)

		r.Group(func(r chi.Router) {
			r.Use(s.tenantMiddleware)

			r.Route("/trajectories", s.trajectoryRoutes)
			r.Route("/scopes", s.scopeRoutes)
			r.Route("/turns", s.turnRoutes)
			r.Route("/artifacts", s.artifactRoutes)
			r.Route("/notes", s.noteRoutes)
			r.Route("/edges", s.edgeRoutes)
			r.Route("/agents", s.agentRoutes)
			r.Route("/locks", s.lockRoutes)
			r.Route("/messages", s.messageRoutes)
			r.Route("/delegations", s.delegationRoutes)
			r.Route("/handoffs", s.handoffRoutes)
			r.Route("/dsl", s.dslRoutes)
			r.Route("/pack", s.packRoutes)
			r.Route("/tools", s.toolRoutes)
			r.Get("/config", s.handleGetConfig)
			r.Route("/tenants", s.tenantRoutes)
		})
	})

	s.router = r
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func validateOptions(opts Options) error {
	switch {
	case opts.Addr == "":
		return missingOption("addr")
	case opts.Config == nil:
		return missingOption("config")
	case opts.Logger == nil:
		return missingOption("logger")
	case opts.Journal == nil:
		return missingOption("journal")
	case opts.Fabric == nil:
		return missingOption("fabric")
	case opts.Coordinator == nil:
		return missingOption("coordinator")
	case opts.ActivePacks == nil:
		return missingOption("active_packs")
	case opts.Gate == nil:
		return missingOption("gate")
	case opts.Metrics == nil:
		return missingOption("metrics")
	case opts.Tokens == nil:
		return missingOption("tokens")
	case opts.Vectors == nil:
		return missingOption("vectors")
	case opts.Authenticator == nil && !opts.AllowUnauthenticated:
		return missingOption("authenticator")
	}
	return nil
}

// Handler exposes the assembled router, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.opts.Logger.Info("http server listening", "addr", s.opts.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
