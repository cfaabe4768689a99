package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zipaJopa/capalloc/config"
	"github.com/zipaJopa/capalloc/internal/services/allocator"
	"github.com/zipaJopa/capalloc/internal/storage/journal"
	store "github.com/zipaJopa/capalloc/internal/storage/ledger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "capalloc",
	Short: "Risk-tiered capital allocator for autonomous trading agents",
	Long: `capalloc owns a single persisted budget ledger. It allocates the total
budget across risk tiers and strategies, approves or rejects per-position
capital requests, settles realized P&L from closed trades, and halts new
capital-intensive commitments when drawdown limits are breached.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to yaml config")
	rootCmd.AddCommand(serveCmd, rebalanceCmd, requestCmd, closeCmd, stateCmd, auditCmd)
}

func execute() error {
	return rootCmd.Execute()
}

// app bundles the wired allocator with the resources it owns.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	alloc   *allocator.Allocator
	journal *journal.WALStore
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, errors.Wrap(err, "init logger")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	st, err := a.newStore(ctx)
	if err != nil {
		return nil, err
	}

	jrnl, err := journal.NewWALStore(cfg.JournalDir)
	if err != nil {
		return nil, err
	}
	a.journal = jrnl
	a.closers = append(a.closers, jrnl.Close)

	a.alloc = allocator.New(cfg, st, jrnl, logger)
	return a, nil
}

func (a *app) newStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Store.Backend {
	case "file":
		return store.NewFileStore(a.cfg.Store.Path)
	case "redis":
		rs, err := store.NewRedisStore(ctx, a.cfg.Store.RedisAddr, a.cfg.Store.RedisDB, a.cfg.Store.RedisKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	case "github":
		token := os.Getenv("GITHUB_TOKEN")
		if token == "" {
			token = os.Getenv("GH_PAT")
		}
		if token == "" {
			return nil, errors.New("GITHUB_TOKEN or GH_PAT must be set for the github store backend")
		}
		return store.NewGitHubStore(a.cfg.Store.GitHubRepo, a.cfg.Store.GitHubPath, a.cfg.Store.GitHubBranch, token)
	default:
		return nil, errors.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
}

func (a *app) close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
