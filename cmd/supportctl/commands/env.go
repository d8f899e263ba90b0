package commands

import (
	"context"
	"fmt"

	"github.com/arturoeanton/support-chat-rag/internal/bootstrap"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/arturoeanton/support-chat-rag/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// env is the configured backends a command works against.
type env struct {
	cfg      *config.Config
	stores   *bootstrap.Stores
	provider bootstrap.Provider
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	provider, err := bootstrap.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, stores: stores, provider: provider}, nil
}

func (e *env) Close() {
	e.stores.Close()
}

func (e *env) assembler() *service.ContextAssembler {
	return service.NewContextAssembler(e.provider, e.stores.Index, service.AssemblerConfig{
		TopK:            e.cfg.ContextTopK,
		MaxChars:        e.cfg.ContextMaxChars,
		MinScore:        &e.cfg.ContextMinScore,
		EnforceMinScore: e.cfg.ContextEnforceMinScore,
	})
}

// namespace returns the --namespace flag when given, else the configured namespace.
func namespace(cmd *cobra.Command, cfg *config.Config) string {
	if f := cmd.Flag("namespace"); f != nil && f.Changed {
		return f.Value.String()
	}
	return cfg.Namespace
}
