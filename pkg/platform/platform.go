// Package platform builds and owns every live component from one
// config.Config: the database pool, the domain stores, the warm container
// pool and agent runner, the composer, and the Platform Bridge listener
// itself. It is the wiring point between declarative config and the
// running process.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/genbase-project/genbase/pkg/agentrunner"
	"github.com/genbase-project/genbase/pkg/bridge"
	"github.com/genbase-project/genbase/pkg/chathistory"
	"github.com/genbase-project/genbase/pkg/composer"
	"github.com/genbase-project/genbase/pkg/config"
	"github.com/genbase-project/genbase/pkg/crypt"
	"github.com/genbase-project/genbase/pkg/dockerutil"
	"github.com/genbase-project/genbase/pkg/imagecache"
	"github.com/genbase-project/genbase/pkg/kitstore"
	"github.com/genbase-project/genbase/pkg/llmgateway"
	"github.com/genbase-project/genbase/pkg/module"
	"github.com/genbase-project/genbase/pkg/observability"
	"github.com/genbase-project/genbase/pkg/platformconfig"
	"github.com/genbase-project/genbase/pkg/profilestore"
	"github.com/genbase-project/genbase/pkg/provides"
	"github.com/genbase-project/genbase/pkg/storedb"
	"github.com/genbase-project/genbase/pkg/warmpool"
	"github.com/genbase-project/genbase/pkg/workspace"
)

// Platform holds every live component wired from one config.Config. The
// zero value is not usable; build one with New.
type Platform struct {
	cfg *config.Config
	log *slog.Logger

	dbPool *storedb.Pool

	Sealer    *crypt.Sealer
	Workspace *workspace.Store
	Modules   *module.Registry
	ApiKeys   *module.ApiKeyStore
	Profiles  *module.ProfileStatusStore
	Kits      *kitstore.Store
	Registry  *kitstore.RegistryClient
	Edges     *provides.Graph
	Docker    *dockerutil.Client
	Images    *imagecache.Cache
	Warm      *warmpool.Pool
	Sweeper   *warmpool.Sweeper
	Venvs     *agentrunner.VenvManager
	Runner    *agentrunner.Runner
	Gateway   *llmgateway.Gateway
	ChatHist  *chathistory.Store
	Documents *profilestore.Store
	Composer  *composer.Composer
	Settings  *platformconfig.Store

	Observability *observability.Manager

	Bridge *bridge.Server
}

// New wires every component from cfg. The returned Platform owns a
// database connection and the observability exporters; call Close to
// release both. The idle-container sweeper runs only while Serve runs.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Platform, error) {
	p := &Platform{cfg: cfg, log: log}

	driver := storedb.Driver(cfg.Database.Driver)
	pool := storedb.NewPool()
	db, err := pool.Get(ctx, storedb.Config{
		Driver:   driver,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		MaxIdle:  cfg.Database.MaxIdle,
	})
	if err != nil {
		return nil, fmt.Errorf("platform: open database: %w", err)
	}
	p.dbPool = pool

	for _, schema := range []string{
		module.EnsureSchema,
		provides.EnsureSchema,
		chathistory.EnsureSchema,
		profilestore.EnsureSchema,
		platformconfig.EnsureSchema,
	} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("platform: apply schema: %w", err)
		}
	}

	obsCfg := cfg.Observability
	observabilityManager, err := observability.NewManager(ctx, &obsCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform: build observability manager: %w", err)
	}
	p.Observability = observabilityManager

	sealer, err := crypt.NewSealer(cfg.Encryption.KeyEnvVar)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform: build sealer: %w", err)
	}
	p.Sealer = sealer

	ws, err := workspace.NewStore(cfg.Storage.WorkspaceBaseDir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform: build workspace store: %w", err)
	}
	p.Workspace = ws

	p.Modules = module.NewRegistry(db, driver, sealer, ws)
	p.ApiKeys = module.NewApiKeyStore(db, driver)
	p.Profiles = module.NewProfileStatusStore(db, driver)

	kits, err := kitstore.NewStore(cfg.Storage.KitBaseDir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform: build kit store: %w", err)
	}
	p.Kits = kits
	p.Registry = kitstore.NewRegistryClient(cfg.Registry.URL, cfg.Registry.FetchRetries, cfg.Registry.FetchBackoff)

	p.Edges = provides.NewGraph(db, driver)

	docker, err := dockerutil.NewClient()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform: build docker client: %w", err)
	}
	p.Docker = docker

	p.Images = imagecache.NewCache(docker)

	p.Warm = warmpool.NewPool(docker, ws, cfg.Storage.ScratchBaseDir, cfg.Runtime.WarmContainerIdleTTL).
		WithMetrics(p.Observability.Metrics())
	p.Sweeper = warmpool.NewSweeper(p.Warm)

	venvs, err := agentrunner.NewVenvManager(cfg.Storage.VenvBaseDir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform: build venv manager: %w", err)
	}
	p.Venvs = venvs
	p.Runner = agentrunner.NewRunner(docker, p.Modules, kits, ws, venvs, cfg.Runtime.AgentRunTimeout).
		WithMetrics(p.Observability.Metrics())

	p.Gateway = llmgateway.New(llmgateway.Config{
		APIKey: config.LLMGatewayAPIKey(),
	})

	p.ChatHist = chathistory.NewStore(db, driver)
	p.Documents = profilestore.NewStore(db, driver)
	p.Composer = composer.New(p.Modules, kits, p.Edges)
	p.Settings = platformconfig.NewStore(db, driver)

	if err := p.Settings.SeedDefaults(ctx, platformconfig.RuntimeSeed{
		AgentRunTimeout:       cfg.Runtime.AgentRunTimeout,
		WarmContainerIdleTTL:  cfg.Runtime.WarmContainerIdleTTL,
		ContainerStartTimeout: cfg.Runtime.ContainerStartTimeout,
	}, time.Now()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform: seed settings: %w", err)
	}

	handlers := bridge.RegisterHandlers(bridge.Deps{
		Modules:    p.Modules,
		Kits:       kits,
		Edges:      p.Edges,
		Workspaces: ws,
		ChatHist:   p.ChatHist,
		Documents:  p.Documents,
		Gateway:    p.Gateway,
		Images:     p.Images,
		Tools:      p.Warm,
	})

	p.Bridge = bridge.NewServer(bridge.Config{
		Host:       cfg.Bridge.Host,
		Port:       cfg.Bridge.Port,
		RPCTimeout: cfg.Bridge.RPCTimeout,
	}, p.ApiKeys, handlers, log).WithMetrics(p.Observability.Metrics())

	return p, nil
}

// Serve starts the idle-container sweeper and blocks on the Platform
// Bridge listener until ctx is canceled or the listener fails.
func (p *Platform) Serve(ctx context.Context) error {
	if err := p.Sweeper.Start(); err != nil {
		return fmt.Errorf("platform: start sweeper: %w", err)
	}
	defer p.Sweeper.Stop()
	return p.Bridge.Start(ctx)
}

// Close releases the database connection pool and shuts down the
// observability manager's exporters. Other components hold no resources
// beyond what the pool and the bridge's own Start/Stop manage.
func (p *Platform) Close() error {
	if err := p.Observability.Shutdown(context.Background()); err != nil {
		p.dbPool.Close()
		return fmt.Errorf("platform: shutdown observability: %w", err)
	}
	return p.dbPool.Close()
}
