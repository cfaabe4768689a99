package config

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	defaultDrawdownFromInitialLimit = 0.30
	defaultDrawdownFromPeakLimit    = 0.20
	defaultListenAddr               = ":8080"
	defaultRebalanceSchedule        = "@daily"
	defaultJournalDir               = "./wal/journal"
	defaultStoreBackend             = "file"
	defaultStorePath                = "./budget/budget_state.json"
	defaultRedisKey                 = "capalloc:ledger"
	defaultGitHubBranch             = "main"

	// tierSumTolerance absorbs float literals like 0.30+0.40+0.30 in YAML.
	tierSumTolerance = 1e-9
)

// TierConfig describes one risk bucket.
type TierConfig struct {
	Percentage float64
	MaxLossPct float64
}

// StrategyConfig describes one strategy's static capital limits.
type StrategyConfig struct {
	RiskTier               string
	TierShare              float64
	MaxCapitalPerTrade     decimal.Decimal
	MaxConcurrentPositions int
	RequiresCapital        bool
	Description            string
}

// StoreConfig selects and parameterizes the ledger store backend.
type StoreConfig struct {
	Backend      string
	Path         string
	RedisAddr    string
	RedisDB      int
	RedisKey     string
	GitHubRepo   string
	GitHubPath   string
	GitHubBranch string
}

// Config is the full static configuration surface, loaded once at process
// start and never mutated at runtime.
type Config struct {
	InitialBudget            decimal.Decimal
	RiskTiers                map[string]TierConfig
	Strategies               map[string]StrategyConfig
	DrawdownFromInitialLimit float64
	DrawdownFromPeakLimit    float64
	Store                    StoreConfig
	ListenAddr               string
	RebalanceSchedule        string
	JournalDir               string
}

type tierTmp struct {
	Percentage float64 `yaml:"percentage"`
	MaxLossPct float64 `yaml:"max_loss_pct"`
}

type strategyTmp struct {
	RiskTier               string  `yaml:"risk_tier"`
	TierShare              float64 `yaml:"tier_share_pct"`
	MaxCapitalPerTrade     string  `yaml:"max_capital_per_trade"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	RequiresCapital        bool    `yaml:"requires_capital"`
	Description            string  `yaml:"description,omitempty"`
}

type storeTmp struct {
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path,omitempty"`
	RedisAddr    string `yaml:"redis_addr,omitempty"`
	RedisDB      int    `yaml:"redis_db,omitempty"`
	RedisKey     string `yaml:"redis_key,omitempty"`
	GitHubRepo   string `yaml:"github_repo,omitempty"`
	GitHubPath   string `yaml:"github_path,omitempty"`
	GitHubBranch string `yaml:"github_branch,omitempty"`
}

type configTmp struct {
	InitialBudget            string                 `yaml:"initial_budget"`
	RiskTiers                map[string]tierTmp     `yaml:"risk_tiers"`
	Strategies               map[string]strategyTmp `yaml:"strategies"`
	DrawdownFromInitialLimit *float64               `yaml:"drawdown_from_initial_limit,omitempty"`
	DrawdownFromPeakLimit    *float64               `yaml:"drawdown_from_peak_limit,omitempty"`
	Store                    storeTmp               `yaml:"store"`
	ListenAddr               string                 `yaml:"listen_addr,omitempty"`
	RebalanceSchedule        string                 `yaml:"rebalance_schedule,omitempty"`
	JournalDir               string                 `yaml:"journal_dir,omitempty"`
}

// Load reads, parses and validates a YAML config file.
func Load(path string) (Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	return Parse(payload)
}

// Parse builds a validated Config from raw YAML.
func Parse(payload []byte) (Config, error) {
	var tmp configTmp
	if err := yaml.Unmarshal(payload, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "decode config yaml")
	}

	initialBudget, err := decimal.NewFromString(tmp.InitialBudget)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse initial_budget")
	}

	cfg := Config{
		InitialBudget:            initialBudget,
		RiskTiers:                make(map[string]TierConfig, len(tmp.RiskTiers)),
		Strategies:               make(map[string]StrategyConfig, len(tmp.Strategies)),
		DrawdownFromInitialLimit: defaultDrawdownFromInitialLimit,
		DrawdownFromPeakLimit:    defaultDrawdownFromPeakLimit,
		Store: StoreConfig{
			Backend:      tmp.Store.Backend,
			Path:         tmp.Store.Path,
			RedisAddr:    tmp.Store.RedisAddr,
			RedisDB:      tmp.Store.RedisDB,
			RedisKey:     tmp.Store.RedisKey,
			GitHubRepo:   tmp.Store.GitHubRepo,
			GitHubPath:   tmp.Store.GitHubPath,
			GitHubBranch: tmp.Store.GitHubBranch,
		},
		ListenAddr:        tmp.ListenAddr,
		RebalanceSchedule: tmp.RebalanceSchedule,
		JournalDir:        tmp.JournalDir,
	}

	if tmp.DrawdownFromInitialLimit != nil {
		cfg.DrawdownFromInitialLimit = *tmp.DrawdownFromInitialLimit
	}
	if tmp.DrawdownFromPeakLimit != nil {
		cfg.DrawdownFromPeakLimit = *tmp.DrawdownFromPeakLimit
	}

	for name, tier := range tmp.RiskTiers {
		cfg.RiskTiers[name] = TierConfig{
			Percentage: tier.Percentage,
			MaxLossPct: tier.MaxLossPct,
		}
	}

	for name, strat := range tmp.Strategies {
		maxPerTrade := decimal.Zero
		if strat.MaxCapitalPerTrade != "" {
			maxPerTrade, err = decimal.NewFromString(strat.MaxCapitalPerTrade)
			if err != nil {
				return Config{}, errors.Wrapf(err, "parse max_capital_per_trade for strategy %q", name)
			}
		}
		cfg.Strategies[name] = StrategyConfig{
			RiskTier:               strat.RiskTier,
			TierShare:              strat.TierShare,
			MaxCapitalPerTrade:     maxPerTrade,
			MaxConcurrentPositions: strat.MaxConcurrentPositions,
			RequiresCapital:        strat.RequiresCapital,
			Description:            strat.Description,
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.RebalanceSchedule == "" {
		c.RebalanceSchedule = defaultRebalanceSchedule
	}
	if c.JournalDir == "" {
		c.JournalDir = defaultJournalDir
	}
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Store.RedisKey == "" {
		c.Store.RedisKey = defaultRedisKey
	}
	if c.Store.GitHubBranch == "" {
		c.Store.GitHubBranch = defaultGitHubBranch
	}
}

// Validate enforces the configuration contracts the allocation engine itself
// does not check: positive budget, sane tier percentages, strategies bound to
// known tiers, per-tier shares not over-committed.
func (c *Config) Validate() error {
	if !c.InitialBudget.IsPositive() {
		return errors.New("initial_budget must be positive")
	}
	if len(c.RiskTiers) == 0 {
		return errors.New("at least one risk tier is required")
	}
	if len(c.Strategies) == 0 {
		return errors.New("at least one strategy is required")
	}
	if c.DrawdownFromInitialLimit <= 0 || c.DrawdownFromInitialLimit > 1 {
		return errors.New("drawdown_from_initial_limit must be in (0, 1]")
	}
	if c.DrawdownFromPeakLimit <= 0 || c.DrawdownFromPeakLimit > 1 {
		return errors.New("drawdown_from_peak_limit must be in (0, 1]")
	}

	tierSum := 0.0
	for name, tier := range c.RiskTiers {
		if tier.Percentage <= 0 || tier.Percentage > 1 {
			return errors.Errorf("risk tier %q: percentage must be in (0, 1]", name)
		}
		if tier.MaxLossPct <= 0 || tier.MaxLossPct > 1 {
			return errors.Errorf("risk tier %q: max_loss_pct must be in (0, 1]", name)
		}
		tierSum += tier.Percentage
	}
	if tierSum > 1+tierSumTolerance {
		return errors.Errorf("risk tier percentages sum to %.4f, must not exceed 1.0", tierSum)
	}

	sharesByTier := map[string]float64{}
	for name, strat := range c.Strategies {
		if _, ok := c.RiskTiers[strat.RiskTier]; !ok {
			return errors.Errorf("strategy %q references unknown risk tier %q", name, strat.RiskTier)
		}
		if strat.TierShare <= 0 || strat.TierShare > 1 {
			return errors.Errorf("strategy %q: tier_share_pct must be in (0, 1]", name)
		}
		if strat.RequiresCapital {
			if !strat.MaxCapitalPerTrade.IsPositive() {
				return errors.Errorf("strategy %q: max_capital_per_trade must be positive for capital strategies", name)
			}
			if strat.MaxConcurrentPositions <= 0 {
				return errors.Errorf("strategy %q: max_concurrent_positions must be positive for capital strategies", name)
			}
		}
		sharesByTier[strat.RiskTier] += strat.TierShare
	}
	for tier, sum := range sharesByTier {
		if sum > 1+tierSumTolerance {
			return errors.Errorf("strategy shares in tier %q sum to %.4f, must not exceed 1.0", tier, sum)
		}
	}

	switch c.Store.Backend {
	case "file":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the file backend")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	case "github":
		if c.Store.GitHubRepo == "" || c.Store.GitHubPath == "" {
			return errors.New("store.github_repo and store.github_path are required for the github backend")
		}
	default:
		return errors.Errorf("unknown store backend %q", c.Store.Backend)
	}

	return nil
}

// StrategyNames returns configured strategy names in stable order.
func (c *Config) StrategyNames() []string {
	names := make([]string, 0, len(c.Strategies))
	for name := range c.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
