// Package config loads staghunt settings from YAML files and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"staghunt/internal/evo"
	"staghunt/internal/game"
	"staghunt/internal/logging"
	"staghunt/internal/model"
	"staghunt/internal/storage"
)

const envPrefix = "STAGHUNT_"

type Config struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Matrix     MatrixConfig     `json:"matrix" yaml:"matrix"`
	Labels     model.Labels     `json:"labels" yaml:"labels"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Output     OutputConfig     `json:"output" yaml:"output"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

type SimulationConfig struct {
	PopulationSize        int     `json:"population_size" yaml:"population_size"`
	InitialCooperateRatio float64 `json:"initial_cooperate_ratio" yaml:"initial_cooperate_ratio"`
	RevisionProbability   float64 `json:"revision_probability" yaml:"revision_probability"`
	Generations           int     `json:"generations" yaml:"generations"`
	Runs                  int     `json:"runs" yaml:"runs"`
	ReputationMode        bool    `json:"reputation_mode" yaml:"reputation_mode"`

	// UnmatchedPolicy is "stale" or "exclude".
	UnmatchedPolicy string `json:"unmatched_policy" yaml:"unmatched_policy"`

	// UpdateMode is "synchronous" or "sequential".
	UpdateMode string `json:"update_mode" yaml:"update_mode"`

	// Seed 0 means seed from the clock at run time.
	Seed int64 `json:"seed" yaml:"seed"`
}

// EntryConfig is one cell of the game matrix, row player first.
type EntryConfig struct {
	Payoff     [2]float64 `json:"payoff" yaml:"payoff"`
	Reputation [2]float64 `json:"reputation" yaml:"reputation"`
}

type MatrixConfig struct {
	CC EntryConfig `json:"cc" yaml:"cc"`
	CD EntryConfig `json:"cd" yaml:"cd"`
	DC EntryConfig `json:"dc" yaml:"dc"`
	DD EntryConfig `json:"dd" yaml:"dd"`
}

type StorageConfig struct {
	// Kind is "memory" or "sqlite".
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

type OutputConfig struct {
	CSVPath      string `json:"csv,omitempty" yaml:"csv,omitempty"`
	ArtifactsDir string `json:"artifacts_dir,omitempty" yaml:"artifacts_dir,omitempty"`
	Listen       string `json:"listen,omitempty" yaml:"listen,omitempty"`
	Quiet        bool   `json:"quiet" yaml:"quiet"`
}

type LoggingConfig struct {
	// Level is "info" (default), "debug", "trace", "warn" or "error".
	Level string `json:"level" yaml:"level"`
}

func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			PopulationSize:        100,
			InitialCooperateRatio: 0.5,
			RevisionProbability:   0.1,
			Generations:           100,
			Runs:                  1,
			UnmatchedPolicy:       string(evo.UnmatchedStale),
			UpdateMode:            string(evo.UpdateSynchronous),
		},
		Matrix:  matrixConfigOf(game.DefaultMatrix().Entries()),
		Labels:  model.DefaultLabels(),
		Storage: StorageConfig{Kind: storage.DefaultStoreKind},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load applies defaults, then path if non-empty, then STAGHUNT_* variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileConfig
	}
	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Storage.Path = expandEnvVars(cfg.Storage.Path)
	cfg.Output.ArtifactsDir = expandEnvVars(cfg.Output.ArtifactsDir)
	cfg.Output.CSVPath = expandEnvVars(cfg.Output.CSVPath)
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) Validate() error {
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Labels.Cooperate) == "" || strings.TrimSpace(c.Labels.Defect) == "" {
		return fmt.Errorf("%w: strategy labels must not be empty", evo.ErrInvalidConfig)
	}
	if strings.EqualFold(c.Labels.Cooperate, c.Labels.Defect) {
		return fmt.Errorf("%w: strategy labels must differ, both are %q", evo.ErrInvalidConfig, c.Labels.Cooperate)
	}
	switch c.Storage.Kind {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unsupported storage kind %q (valid: memory, sqlite)", evo.ErrInvalidConfig, c.Storage.Kind)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("%w: invalid log level %q (valid: info, debug, trace, warn, error)", evo.ErrInvalidConfig, c.Logging.Level)
	}
	return nil
}

// EngineConfig converts the simulation and matrix sections into an engine
// configuration and validates it. Reputation entries are zeroed unless
// reputation mode is on.
func (c *Config) EngineConfig() (evo.Config, error) {
	matrix, err := game.NewMatrix(c.Matrix.entries())
	if err != nil {
		return evo.Config{}, fmt.Errorf("%w: %w", evo.ErrInvalidConfig, err)
	}
	s := c.Simulation
	if !s.ReputationMode {
		matrix = matrix.WithoutReputation()
	}
	engineCfg := evo.Config{
		PopulationSize:        s.PopulationSize,
		InitialCooperateRatio: s.InitialCooperateRatio,
		RevisionProbability:   s.RevisionProbability,
		Generations:           s.Generations,
		Runs:                  s.Runs,
		ReputationMode:        s.ReputationMode,
		UnmatchedPolicy:       evo.UnmatchedPolicy(s.UnmatchedPolicy),
		UpdateMode:            evo.UpdateMode(s.UpdateMode),
		Matrix:                matrix,
		Seed:                  s.Seed,
	}
	if err := engineCfg.Validate(); err != nil {
		return evo.Config{}, err
	}
	return engineCfg, nil
}

// RunConfig is the persisted form of the simulation settings.
func (c *Config) RunConfig() model.RunConfig {
	s := c.Simulation
	return model.RunConfig{
		PopulationSize:        s.PopulationSize,
		InitialCooperateRatio: s.InitialCooperateRatio,
		RevisionProbability:   s.RevisionProbability,
		Generations:           s.Generations,
		Runs:                  s.Runs,
		ReputationMode:        s.ReputationMode,
		UnmatchedPolicy:       s.UnmatchedPolicy,
		UpdateMode:            s.UpdateMode,
		Seed:                  s.Seed,
		Labels:                c.Labels,
	}
}

func (m MatrixConfig) entries() map[game.Pair]game.Outcome {
	return map[game.Pair]game.Outcome{
		{A: model.Cooperate, B: model.Cooperate}: m.CC.outcome(),
		{A: model.Cooperate, B: model.Defect}:    m.CD.outcome(),
		{A: model.Defect, B: model.Cooperate}:    m.DC.outcome(),
		{A: model.Defect, B: model.Defect}:       m.DD.outcome(),
	}
}

func (e EntryConfig) outcome() game.Outcome {
	return game.Outcome{Payoff: e.Payoff, Reputation: e.Reputation}
}

func matrixConfigOf(entries map[game.Pair]game.Outcome) MatrixConfig {
	entry := func(a, b model.Strategy) EntryConfig {
		o := entries[game.Pair{A: a, B: b}]
		return EntryConfig{Payoff: o.Payoff, Reputation: o.Reputation}
	}
	return MatrixConfig{
		CC: entry(model.Cooperate, model.Cooperate),
		CD: entry(model.Cooperate, model.Defect),
		DC: entry(model.Defect, model.Cooperate),
		DD: entry(model.Defect, model.Defect),
	}
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	lookup := func(name string) string {
		return strings.TrimSpace(getenv(envPrefix + name))
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"POPULATION_SIZE", &cfg.Simulation.PopulationSize},
		{"GENERATIONS", &cfg.Simulation.Generations},
		{"RUNS", &cfg.Simulation.Runs},
	}
	for _, item := range ints {
		if v := lookup(item.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, item.name, err)
			}
			*item.dst = n
		}
	}
	floats := []struct {
		name string
		dst  *float64
	}{
		{"INITIAL_COOPERATE_RATIO", &cfg.Simulation.InitialCooperateRatio},
		{"REVISION_PROBABILITY", &cfg.Simulation.RevisionProbability},
	}
	for _, item := range floats {
		if v := lookup(item.name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, item.name, err)
			}
			*item.dst = f
		}
	}
	if v := lookup("SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", envPrefix, err)
		}
		cfg.Simulation.Seed = seed
	}
	if v := lookup("REPUTATION_MODE"); v != "" {
		cfg.Simulation.ReputationMode = v == "true" || v == "1" || strings.EqualFold(v, "y")
	}
	strs := []struct {
		name string
		dst  *string
	}{
		{"UNMATCHED_POLICY", &cfg.Simulation.UnmatchedPolicy},
		{"UPDATE_MODE", &cfg.Simulation.UpdateMode},
		{"STORE", &cfg.Storage.Kind},
		{"DB_PATH", &cfg.Storage.Path},
		{"ARTIFACTS_DIR", &cfg.Output.ArtifactsDir},
		{"CSV", &cfg.Output.CSVPath},
		{"LISTEN", &cfg.Output.Listen},
		{"LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, item := range strs {
		if v := lookup(item.name); v != "" {
			*item.dst = v
		}
	}
	return nil
}

func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
