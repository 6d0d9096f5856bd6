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

// Command caliber runs the CALIBER memory and coordination substrate.
//
// Usage:
//
//	caliber serve --config caliber.yaml --addr :8420
//	caliber validate ./packs/research
//	caliber inspect ./packs/research
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	caliber "github.com/caliberhq/caliber"
	"github.com/caliberhq/caliber/pkg/auth"
	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/checkpoint"
	"github.com/caliberhq/caliber/pkg/config"
	"github.com/caliberhq/caliber/pkg/coordination"
	"github.com/caliberhq/caliber/pkg/dsl"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/eventdag"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/journal"
	"github.com/caliberhq/caliber/pkg/logger"
	"github.com/caliberhq/caliber/pkg/metrics"
	"github.com/caliberhq/caliber/pkg/pack"
	"github.com/caliberhq/caliber/pkg/pgstore"
	"github.com/caliberhq/caliber/pkg/rpc"
	"github.com/caliberhq/caliber/pkg/server"
	"github.com/caliberhq/caliber/pkg/tokens"
	"github.com/caliberhq/caliber/pkg/toolgate"
	"github.com/caliberhq/caliber/pkg/vectorindex"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the CALIBER server."`
	Validate ValidateCmd `cmd:"" help:"Validate a pack directory or DSL file."`
	Inspect  InspectCmd  `cmd:"" help:"Compile a pack and print its summary."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(caliber.GetVersion().String())
	return nil
}

// ServeCmd starts the HTTP/WS server and, optionally, the gRPC mirror.
type ServeCmd struct {
	Config   string `short:"c" required:"" help:"Path to config file." type:"path"`
	Addr     string `help:"HTTP listen address." default:":8420"`
	GRPCAddr string `name:"grpc-addr" help:"gRPC mirror listen address (empty = disabled)."`

	DBDSN string `name:"db-dsn" help:"Postgres DSN for durable entity storage (empty = in-memory)."`

	APIKey  string `name:"api-key" help:"Static API key accepted in X-API-Key."`
	JWKSURL string `name:"jwks-url" help:"JWKS endpoint for Bearer-token validation."`
	Issuer  string `help:"Expected JWT issuer (with --jwks-url)."`
	Audience string `help:"Expected JWT audience (with --jwks-url)."`
	Insecure bool  `help:"Serve without authentication. Development only."`

	StrictPackOnly bool `name:"strict-pack-only" help:"Unknown tool ids are not-found, no fallback." default:"true"`

	TokenEncoding string `name:"token-encoding" help:"tiktoken encoding for turn accounting." default:"cl100k_base"`
	VectorPath    string `name:"vector-path" help:"Vector index persistence path (empty = in-memory)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return err
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)
	log := logger.GetLogger()

	if err := config.LoadEnvFiles(); err != nil {
		log.Warn("env file load failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return err
	}
	defer func() { _ = loader.Close() }()

	j := journal.NewEventDagChangeJournal(eventdag.New())
	fabric := broadcast.New(broadcast.DefaultCapacity)
	registry := metrics.NewRegistry()
	activePacks := pack.NewActiveSet()

	entityStores, coordStores, err := buildStores(ctx, c.DBDSN)
	if err != nil {
		return err
	}
	coordinator := coordination.New(coordStores, j, fabric)

	gate := toolgate.New(
		toolgate.Config{StrictPackOnly: c.StrictPackOnly},
		activePacks,
		&storeScopes{stores: entityStores},
		&storeAgents{stores: entityStores},
		fabric,
		log,
	)

	authenticator, err := c.buildAuthenticator()
	if err != nil {
		return err
	}

	counter, err := tokens.NewCounter(c.TokenEncoding)
	if err != nil {
		return err
	}
	vectors, err := vectorindex.New(vectorindex.Config{PersistPath: c.VectorPath, Compress: true})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Addr:                 c.Addr,
		Config:               cfg,
		Logger:               log,
		Journal:              j,
		Fabric:               fabric,
		Coordinator:          coordinator,
		Stores:               entityStores,
		ActivePacks:          activePacks,
		Gate:                 gate,
		Metrics:              registry,
		Tokens:               counter,
		Vectors:              vectors,
		Authenticator:        authenticator,
		AllowUnauthenticated: c.Insecure,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if c.GRPCAddr != "" {
		svc := rpc.NewService(rpc.Stores{
			Trajectories: entityStores.Trajectories,
			Artifacts:    entityStores.Artifacts,
			Notes:        entityStores.Notes,
		}, coordinator, gate)
		grpcServer := rpc.NewServer(svc)

		listener, err := net.Listen("tcp", c.GRPCAddr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Info("grpc mirror listening", "addr", c.GRPCAddr)
			return grpcServer.Serve(listener)
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

func (c *ServeCmd) buildAuthenticator() (server.Authenticator, error) {
	if c.Insecure {
		return nil, nil
	}
	if c.JWKSURL != "" {
		validator, err := auth.NewJWTValidator(c.JWKSURL, c.Issuer, c.Audience)
		if err != nil {
			return nil, err
		}
		return &jwtAuthenticator{validator: validator, apiKey: c.APIKey}, nil
	}
	if c.APIKey != "" {
		return &apiKeyAuthenticator{key: c.APIKey}, nil
	}
	return nil, fmt.Errorf("missing required field: one of --api-key, --jwks-url, --insecure")
}

func buildStores(ctx context.Context, dsn string) (server.EntityStores, coordination.Stores, error) {
	if dsn == "" {
		return server.NewInMemoryEntityStores(), coordination.Stores{
			Locks:       coordination.NewInMemoryStore[entity.Lock](),
			Messages:    coordination.NewInMemoryStore[entity.Message](),
			Delegations: coordination.NewInMemoryStore[entity.Delegation](),
			Handoffs:    coordination.NewInMemoryStore[entity.Handoff](),
			Conflicts:   coordination.NewInMemoryStore[entity.Conflict](),
		}, nil
	}

	db, err := pgstore.Open(ctx, dsn)
	if err != nil {
		return server.EntityStores{}, coordination.Stores{}, err
	}
	if err := pgstore.Migrate(ctx, db); err != nil {
		return server.EntityStores{}, coordination.Stores{}, err
	}
	entityStores := server.EntityStores{
		Trajectories: pgstore.New[entity.Trajectory](db, entity.TypeTrajectory),
		Scopes:       pgstore.New[entity.Scope](db, entity.TypeScope),
		Turns:        pgstore.New[entity.Turn](db, entity.TypeTurn),
		Artifacts:    pgstore.New[entity.Artifact](db, entity.TypeArtifact),
		Notes:        pgstore.New[entity.Note](db, entity.TypeNote),
		Agents:       pgstore.New[entity.Agent](db, entity.TypeAgent),
		Edges:        pgstore.New[entity.Edge](db, entity.TypeEdge),
		Checkpoints:  pgstore.New[checkpoint.Record](db, entity.TypeEvolutionSnapshot),
	}
	coordStores := coordination.Stores{
		Locks:       pgstore.New[entity.Lock](db, entity.TypeLock),
		Messages:    pgstore.New[entity.Message](db, entity.TypeMessage),
		Delegations: pgstore.New[entity.Delegation](db, entity.TypeDelegation),
		Handoffs:    pgstore.New[entity.Handoff](db, entity.TypeHandoff),
		Conflicts:   pgstore.New[entity.Conflict](db, entity.TypeConflict),
	}
	return entityStores, coordStores, nil
}

// ValidateCmd validates a pack directory (pack.toml + markdown + DSL) or a
// single .dsl file.
type ValidateCmd struct {
	Path string `arg:"" help:"Pack directory or .dsl file." type:"path"`
}

func (c *ValidateCmd) Run() error {
	info, err := os.Stat(c.Path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if _, err := pack.Compile(c.Path); err != nil {
			return err
		}
		fmt.Println("pack ok")
		return nil
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return err
	}
	if _, err := dsl.Parse(c.Path, string(data)); err != nil {
		return err
	}
	fmt.Println("dsl ok")
	return nil
}

// InspectCmd compiles a pack and prints a JSON summary.
type InspectCmd struct {
	Path string `arg:"" help:"Pack directory." type:"path"`
}

func (c *InspectCmd) Run() error {
	cfg, err := pack.Compile(c.Path)
	if err != nil {
		return err
	}
	summary := map[string]any{
		"tools":    len(cfg.Tools),
		"toolsets": len(cfg.Toolsets),
		"agents":   len(cfg.PackAgents),
		"markdown": len(cfg.Markdown),
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// storeScopes adapts the entity stores to the gate's ScopeReader.
type storeScopes struct {
	stores server.EntityStores
}

func (s *storeScopes) GetScope(ctx context.Context, tenant, scopeID id.ID) (*entity.Scope, error) {
	return s.stores.Scopes.Get(ctx, tenant, scopeID)
}

// storeAgents adapts the entity stores to the gate's AgentDirectory.
type storeAgents struct {
	stores server.EntityStores
}

func (s *storeAgents) AgentName(ctx context.Context, tenant, agentID id.ID) (string, error) {
	agent, err := s.stores.Agents.Get(ctx, tenant, agentID)
	if err != nil {
		return "", err
	}
	if agent == nil {
		return "", fmt.Errorf("agent %s not found", agentID)
	}
	return agent.Name, nil
}

type apiKeyAuthenticator struct{ key string }

func (a *apiKeyAuthenticator) Authenticate(r *http.Request) error {
	if r.Header.Get("X-API-Key") == a.key {
		return nil
	}
	return fmt.Errorf("invalid api key")
}

// jwtAuthenticator accepts either the static API key or a valid Bearer JWT.
type jwtAuthenticator struct {
	validator *auth.JWTValidator
	apiKey    string
}

func (a *jwtAuthenticator) Authenticate(r *http.Request) error {
	if a.apiKey != "" && r.Header.Get("X-API-Key") == a.apiKey {
		return nil
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return fmt.Errorf("expected Authorization: Bearer token")
	}
	_, err := a.validator.ValidateToken(r.Context(), header[len(prefix):])
	return err
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("caliber"),
		kong.Description("CALIBER - multi-tenant memory and coordination substrate for AI agents"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
