package storage

import (
	"context"

	"staghunt/internal/model"
)

// Store persists finished runs: their record, per-generation summaries and
// final population.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveGenerationSummaries(ctx context.Context, runID string, summaries []model.GenerationSummary) error
	GetGenerationSummaries(ctx context.Context, runID string) ([]model.GenerationSummary, bool, error)
	SavePopulation(ctx context.Context, snapshot model.PopulationSnapshot) error
	GetPopulation(ctx context.Context, id string) (model.PopulationSnapshot, bool, error)
}
