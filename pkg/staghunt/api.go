package staghunt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"staghunt/internal/config"
	"staghunt/internal/evo"
	"staghunt/internal/logging"
	"staghunt/internal/model"
	"staghunt/internal/stats"
	"staghunt/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "staghunt.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store  storage.Store
	logger *slog.Logger

	initOnce sync.Once
	initErr  error

	artifactsDir string
	exportsDir   string
}

type RunRequest struct {
	// Config defaults to config.Default() when nil.
	Config *config.Config

	// Observer sees every generation summary of every run.
	Observer evo.Observer

	// OnRunComplete is called after each run has been persisted.
	OnRunComplete func(RunSummary) error
}

type RunSummary struct {
	Record          model.RunRecord
	RunID           string
	BatchID         string
	RunIndex        int
	Seed            int64
	ArtifactsDir    string
	Summaries       []model.GenerationSummary
	FinalPopulation []model.Agent
	Final           model.FinalSummary
	Elapsed         time.Duration
}

type BatchResult struct {
	BatchID string
	Seed    int64
	Runs    []RunSummary
	Summary stats.BatchSummary
}

type RunsRequest struct {
	Limit   int
	BatchID string
}

type RunItem struct {
	RunID               string
	BatchID             string
	RunIndex            int
	CreatedAtUTC        string
	Seed                int64
	Population          int
	Generations         int
	RevisionProbability float64
	ReputationMode      bool
	CooperateProportion float64
	AveragePayoff       float64
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// Run executes a batch. Each run is persisted to the store and the artifacts
// directory before the next one starts.
func (c *Client) Run(ctx context.Context, req RunRequest) (batch BatchResult, err error) {
	cfg := req.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return BatchResult{}, err
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return BatchResult{}, err
	}
	if engineCfg.Seed == 0 {
		engineCfg.Seed = time.Now().UnixNano()
	}
	if err := c.Init(ctx); err != nil {
		return BatchResult{}, err
	}

	engine, err := evo.NewEngine(engineCfg, evo.WithLogger(c.logger))
	if err != nil {
		return BatchResult{}, err
	}
	runConfig := cfg.RunConfig()
	runConfig.Seed = engineCfg.Seed
	runConfig.UnmatchedPolicy = string(engine.Config().UnmatchedPolicy)
	runConfig.UpdateMode = string(engine.Config().UpdateMode)

	observers := evo.MultiObserver{req.Observer}
	if cfg.Output.CSVPath != "" {
		sink, sinkErr := stats.CreateCSVSink(cfg.Output.CSVPath)
		if sinkErr != nil {
			return BatchResult{}, fmt.Errorf("create csv sink: %w", sinkErr)
		}
		defer func() {
			if closeErr := sink.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close csv sink: %w", closeErr)
			}
		}()
		observers = append(observers, sink)
	}

	batch = BatchResult{BatchID: uuid.NewString(), Seed: engineCfg.Seed}
	c.logger.Info("batch started", "batch_id", batch.BatchID, "runs", engineCfg.Runs, "seed", engineCfg.Seed)

	lasts := make([]model.GenerationSummary, 0, engineCfg.Runs)
	trajectories := make([][]model.GenerationSummary, 0, engineCfg.Runs)
	for i, seed := range evo.RunSeeds(engineCfg.Seed, engineCfg.Runs) {
		started := time.Now()
		result, err := engine.RunOnce(ctx, i+1, seed, observers)
		if err != nil {
			return batch, err
		}
		summary, err := c.persistRun(ctx, batch.BatchID, runConfig, result, time.Since(started))
		if err != nil {
			return batch, err
		}
		batch.Runs = append(batch.Runs, summary)
		if n := len(result.Summaries); n > 0 {
			lasts = append(lasts, result.Summaries[n-1])
		}
		trajectories = append(trajectories, result.Summaries)
		if req.OnRunComplete != nil {
			if err := req.OnRunComplete(summary); err != nil {
				return batch, err
			}
		}
	}

	batch.Summary = stats.SummarizeBatch(lasts)
	batch.Summary.CooperateTrajectory = stats.MeanTrajectory(trajectories)
	if _, err := stats.WriteBatchSummary(c.artifactsDir, batch.BatchID, batch.Summary); err != nil {
		return batch, err
	}
	c.logger.Info("batch finished", "batch_id", batch.BatchID, "mean_final_cooperate", batch.Summary.FinalCooperateProportion.Mean)
	return batch, nil
}

func (c *Client) persistRun(ctx context.Context, batchID string, runConfig model.RunConfig, result evo.RunResult, elapsed time.Duration) (RunSummary, error) {
	runID := uuid.NewString()
	record := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		BatchID:         batchID,
		RunIndex:        result.Run,
		Seed:            result.Seed,
		Config:          runConfig,
		Final:           result.Final,
		ElapsedMS:       elapsed.Milliseconds(),
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if n := len(result.Summaries); n > 0 {
		record.Last = result.Summaries[n-1]
	}

	if err := c.store.SaveRun(ctx, record); err != nil {
		return RunSummary{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := c.store.SaveGenerationSummaries(ctx, runID, result.Summaries); err != nil {
		return RunSummary{}, fmt.Errorf("save summaries %s: %w", runID, err)
	}
	if err := c.store.SavePopulation(ctx, model.PopulationSnapshot{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		RunID:           runID,
		Generation:      len(result.Summaries),
		Agents:          result.FinalPopulation,
	}); err != nil {
		return RunSummary{}, fmt.Errorf("save population %s: %w", runID, err)
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Record:          record,
		Summaries:       result.Summaries,
		FinalPopulation: result.FinalPopulation,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntryFor(record)); err != nil {
		return RunSummary{}, err
	}
	c.logger.Debug("run persisted", "run_id", runID, "run", result.Run, "elapsed_ms", record.ElapsedMS)

	return RunSummary{
		Record:          record,
		RunID:           runID,
		BatchID:         batchID,
		RunIndex:        result.Run,
		Seed:            result.Seed,
		ArtifactsDir:    filepath.Clean(runDir),
		Summaries:       result.Summaries,
		FinalPopulation: result.FinalPopulation,
		Final:           result.Final,
		Elapsed:         elapsed,
	}, nil
}

// Runs lists runs newest first. The store is consulted first; the run index
// in the artifacts directory covers runs recorded by another process.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	var entries []stats.RunIndexEntry
	if len(records) > 0 {
		entries = make([]stats.RunIndexEntry, 0, len(records))
		for _, record := range records {
			entries = append(entries, stats.IndexEntryFor(record))
		}
	} else {
		entries, err = stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		if req.BatchID != "" && e.BatchID != req.BatchID {
			continue
		}
		out = append(out, RunItem{
			RunID:               e.RunID,
			BatchID:             e.BatchID,
			RunIndex:            e.RunIndex,
			CreatedAtUTC:        e.CreatedAtUTC,
			Seed:                e.Seed,
			Population:          e.PopulationSize,
			Generations:         e.Generations,
			RevisionProbability: e.RevisionProbability,
			ReputationMode:      e.ReputationMode,
			CooperateProportion: e.CooperateProportion,
			AveragePayoff:       e.AveragePayoff,
		})
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

// History returns a run's generation summaries from the store, falling back
// to the artifacts directory for runs recorded by another process.
func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.GenerationSummary, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	history, ok, err := c.store.GetGenerationSummaries(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		history, ok, err = stats.ReadGenerationSummaries(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("generation history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]model.GenerationSummary(nil), history...), nil
}

// Final returns a run's final summary from the store, falling back to the
// run's final.json artifact.
func (c *Client) Final(ctx context.Context, runID string, latest bool) (model.FinalSummary, error) {
	runID, err := c.resolveRunID(runID, latest)
	if err != nil {
		return model.FinalSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return model.FinalSummary{}, err
	}

	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.FinalSummary{}, err
	}
	if ok {
		return record.Final, nil
	}
	final, ok, err := stats.ReadFinalSummary(c.artifactsDir, runID)
	if err != nil {
		return model.FinalSummary{}, err
	}
	if !ok {
		return model.FinalSummary{}, fmt.Errorf("final summary not found for run id: %s", runID)
	}
	return final, nil
}

// FinalPopulation returns the stored end-of-run population.
func (c *Client) FinalPopulation(ctx context.Context, runID string) (model.PopulationSnapshot, error) {
	if err := c.Init(ctx); err != nil {
		return model.PopulationSnapshot{}, err
	}
	snapshot, ok, err := c.store.GetPopulation(ctx, runID)
	if err != nil {
		return model.PopulationSnapshot{}, err
	}
	if !ok {
		return model.PopulationSnapshot{}, fmt.Errorf("population not found for run id: %s", runID)
	}
	return snapshot, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if !latest {
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
