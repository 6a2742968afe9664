// Command genbase runs the agent execution platform: the Platform
// Bridge listener agents call back into, plus operator subcommands for
// uploading kits and provisioning modules.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/genbase-project/genbase/pkg/agentrunner"
	"github.com/genbase-project/genbase/pkg/config"
	"github.com/genbase-project/genbase/pkg/kitstore"
	"github.com/genbase-project/genbase/pkg/logger"
	"github.com/genbase-project/genbase/pkg/module"
	"github.com/genbase-project/genbase/pkg/platform"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve  ServeCmd  `cmd:"" help:"Start the Platform Bridge listener."`
	Kit    KitCmd    `cmd:"" help:"Manage kit archives."`
	Module ModuleCmd `cmd:"" help:"Manage module instances."`

	Config    string `short:"c" help:"Path to config file (YAML)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFormat string `help:"Log format (text or json)." default:""`
}

func (c *CLI) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return config.Config{}, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}
	return cfg, nil
}

func (c *CLI) setupLogger(cfg config.Config) *slog.Logger {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	logger.Init(level, os.Stderr, cfg.Log.Format)
	return logger.GetLogger()
}

// ServeCmd starts the Platform Bridge and blocks until interrupted.
type ServeCmd struct {
	Dev bool `help:"Watch the kit base directory and log reloads as kit.yaml files change on disk."`
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return fmt.Errorf("genbase: load config: %w", err)
	}
	log := cli.setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	p, err := platform.New(ctx, &cfg, log)
	if err != nil {
		return fmt.Errorf("genbase: build platform: %w", err)
	}
	defer p.Close()

	if s.Dev {
		if err := s.watchKits(ctx, cfg, log); err != nil {
			log.Warn("dev kit watcher disabled", "error", err)
		}
	}

	log.Info("platform bridge listening", "host", cfg.Bridge.Host, "port", cfg.Bridge.Port)
	if err := p.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("genbase: serve: %w", err)
	}
	return nil
}

// watchKits starts a DevWatcher over the kit base directory and logs
// each reload event until ctx is canceled.
func (s *ServeCmd) watchKits(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	watcher, err := kitstore.NewDevWatcher(cfg.Storage.KitBaseDir)
	if err != nil {
		return fmt.Errorf("build dev watcher: %w", err)
	}
	events, err := watcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("start dev watcher: %w", err)
	}
	go func() {
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				log.Info("kit reloaded on disk", "owner", ev.Owner, "kit_id", ev.KitID, "version", ev.Version)
			}
		}
	}()
	return nil
}

// KitCmd groups kit archive operations.
type KitCmd struct {
	Upload KitUploadCmd `cmd:"" help:"Upload a kit archive."`
	List   KitListCmd   `cmd:"" help:"List versions of a kit."`
	Delete KitDeleteCmd `cmd:"" help:"Delete a kit version."`
}

// KitUploadCmd ingests a kit zip archive into the Kit Store.
type KitUploadCmd struct {
	Archive   string `arg:"" help:"Path to the kit zip archive." type:"existingfile"`
	Overwrite bool   `help:"Overwrite an existing version instead of failing."`
}

func (k *KitUploadCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log := cli.setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := platform.New(ctx, &cfg, log)
	if err != nil {
		return fmt.Errorf("genbase: build platform: %w", err)
	}
	defer p.Close()

	archive, err := os.ReadFile(k.Archive)
	if err != nil {
		return fmt.Errorf("genbase: read archive: %w", err)
	}

	manifest, err := p.Kits.Upload(archive, k.Overwrite)
	if err != nil {
		return fmt.Errorf("genbase: upload kit: %w", err)
	}
	fmt.Printf("uploaded %s/%s version %s\n", manifest.Owner, manifest.ID, manifest.Version)
	return nil
}

// KitListCmd lists every version stored for a kit.
type KitListCmd struct {
	Owner string `arg:"" help:"Kit owner."`
	KitID string `arg:"" name:"kit-id" help:"Kit id."`
}

func (k *KitListCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log := cli.setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := platform.New(ctx, &cfg, log)
	if err != nil {
		return fmt.Errorf("genbase: build platform: %w", err)
	}
	defer p.Close()

	versions, err := p.Kits.ListVersions(k.Owner, k.KitID, true)
	if err != nil {
		return fmt.Errorf("genbase: list versions: %w", err)
	}
	for _, v := range versions {
		fmt.Println(v)
	}
	return nil
}

// KitDeleteCmd removes one version of a kit.
type KitDeleteCmd struct {
	Owner   string `arg:"" help:"Kit owner."`
	KitID   string `arg:"" name:"kit-id" help:"Kit id."`
	Version string `arg:"" help:"Version to delete."`
}

func (k *KitDeleteCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log := cli.setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := platform.New(ctx, &cfg, log)
	if err != nil {
		return fmt.Errorf("genbase: build platform: %w", err)
	}
	defer p.Close()

	if err := p.Kits.DeleteVersion(k.Owner, k.KitID, k.Version); err != nil {
		return fmt.Errorf("genbase: delete version: %w", err)
	}
	fmt.Printf("deleted %s/%s version %s\n", k.Owner, k.KitID, k.Version)
	return nil
}

// ModuleCmd groups module instance operations.
type ModuleCmd struct {
	Create ModuleCreateCmd `cmd:"" help:"Provision a new module from a kit version."`
	Invoke ModuleInvokeCmd `cmd:"" help:"Run one agent invocation against a module."`
}

// ModuleCreateCmd provisions a module from a kit version.
type ModuleCreateCmd struct {
	ProjectID string `arg:"" name:"project-id" help:"Owning project id."`
	Owner     string `arg:"" help:"Kit owner."`
	KitID     string `arg:"" name:"kit-id" help:"Kit id."`
	Version   string `arg:"" help:"Kit version."`
	Path      string `help:"Path slot within the project." default:""`
	Name      string `help:"Module name (defaults to the generated module id)." default:""`
}

func (m *ModuleCreateCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log := cli.setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := platform.New(ctx, &cfg, log)
	if err != nil {
		return fmt.Errorf("genbase: build platform: %w", err)
	}
	defer p.Close()

	manifest, err := p.Kits.GetKitConfig(m.Owner, m.KitID, m.Version)
	if err != nil {
		return fmt.Errorf("genbase: load kit config: %w", err)
	}

	mod, err := p.Modules.CreateModule(ctx, module.CreateModuleParams{
		ProjectID:        m.ProjectID,
		Owner:            m.Owner,
		KitID:            m.KitID,
		Version:          m.Version,
		Path:             m.Path,
		Name:             m.Name,
		KitWorkspaceSeed: manifest.KitPath + "/workspace",
	})
	if err != nil {
		return fmt.Errorf("genbase: create module: %w", err)
	}

	key, err := p.ApiKeys.GenerateKey(ctx, mod.ModuleID)
	if err != nil {
		return fmt.Errorf("genbase: generate api key: %w", err)
	}

	fmt.Printf("module_id: %s\napi_key: %s\n", mod.ModuleID, key.PlainKey)
	return nil
}

// ModuleInvokeCmd runs one agent invocation against an existing module.
type ModuleInvokeCmd struct {
	ModuleID  string `arg:"" name:"module-id" help:"Module id."`
	Profile   string `arg:"" help:"Profile name."`
	Input     string `arg:"" name:"user-input" help:"User input for the agent."`
	SessionID string `help:"Session id to append chat history under." default:""`
}

func (m *ModuleInvokeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log := cli.setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := platform.New(ctx, &cfg, log)
	if err != nil {
		return fmt.Errorf("genbase: build platform: %w", err)
	}
	defer p.Close()

	result, err := p.Runner.Run(ctx, agentrunner.AgentContext{
		ModuleID:  m.ModuleID,
		Profile:   m.Profile,
		UserInput: m.Input,
		SessionID: m.SessionID,
	}, agentrunner.RunOptions{
		BridgeHost: cfg.Bridge.Host,
		BridgePort: cfg.Bridge.Port,
	})
	if err != nil {
		return fmt.Errorf("genbase: run agent: %w", err)
	}

	fmt.Println(result.Response)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("genbase"),
		kong.Description("Agent execution platform core: kits, modules, and the bridge agents run against."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
