package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/config"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/embedder"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/logger"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/qa"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/source"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "copilot-index",
	Short:        "Semantic index of a markdown vault for note-grounded Q&A",
	SilenceUsage: true,
	Long: `copilot-index chunks the notes of a markdown vault, embeds them and keeps
the vectors in a local store. Only notes changed since the last pass are
re-embedded. The index can be queried from the command line or served to
MCP clients over stdio.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger.SetOutput(cmd.ErrOrStderr())
		if verbose {
			logger.SetVerbose(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.copilot-index/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what a command needs to talk to the index
type app struct {
	cfg     *config.Config
	vault   *source.Vault
	service *qa.Service
}

// openApp loads the config and wires the store, embedding gateway and vault
// into a qa.Service. A missing provider is not fatal: commands that need
// embeddings then fail with types.ErrConfiguration.
func openApp(ctx context.Context, progress func(done, total int)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		logger.SetVerbose(true)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}

	vault, err := source.NewVault(cfg.VaultPath, cfg.VaultName)
	if err != nil {
		return nil, fmt.Errorf("cannot open vault: %w", err)
	}

	gateway, err := openGateway(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		if gateway != nil {
			_ = gateway.Close()
		}
		return nil, err
	}

	svc, err := qa.New(qa.Options{
		Store:           store,
		Gateway:         gateway,
		Source:          vault,
		Chunker:         cfg.Chunker(),
		Exclusions:      cfg.Exclusions(),
		Strategy:        strategy,
		Progress:        progress,
		MaxSourceChunks: cfg.MaxSourceChunks,
	})
	if err != nil {
		_ = store.Close()
		if gateway != nil {
			_ = gateway.Close()
		}
		return nil, err
	}

	logger.Debug("Vault %s at %s, store %s", vault.Name(), vault.Root(), store.Backend())
	return &app{cfg: cfg, vault: vault, service: svc}, nil
}

func openGateway(cfg *config.Config) (*embedder.Gateway, error) {
	provider, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		if errors.Is(err, types.ErrConfiguration) {
			logger.Warn("Embedding provider unavailable: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	gateway, err := embedder.NewGateway(provider, cfg.GatewayConfig())
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("failed to initialize embedding gateway: %w", err)
	}
	logger.Debug("Embedding with %s (%s)", gateway.ModelName(), gateway.Provider())
	return gateway, nil
}

func (a *app) Close() {
	if err := a.service.Close(); err != nil {
		logger.Warn("Close failed: %v", err)
	}
}

// withApp opens the app, hands it to fn and closes it afterwards
func withApp(cmd *cobra.Command, progress func(done, total int), fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, progress)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
