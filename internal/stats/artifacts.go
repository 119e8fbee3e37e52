package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"staghunt/internal/model"
)

const runIndexFile = "run_index.json"

const (
	configFile      = "config.json"
	generationsFile = "generations.json"
	generationsCSV  = "generations.csv"
	finalFile       = "final.json"
	batchFile       = "batch_summary.json"
)

type RunArtifacts struct {
	Record          model.RunRecord
	Summaries       []model.GenerationSummary
	FinalPopulation []model.Agent
}

type runConfigFile struct {
	RunID    string          `json:"run_id"`
	BatchID  string          `json:"batch_id"`
	RunIndex int             `json:"run_index"`
	Seed     int64           `json:"seed"`
	Config   model.RunConfig `json:"config"`
}

type finalReport struct {
	Final      model.FinalSummary `json:"final"`
	ElapsedMS  int64              `json:"elapsed_ms"`
	Population []model.Agent      `json:"population,omitempty"`
}

type RunIndexEntry struct {
	RunID               string  `json:"run_id"`
	BatchID             string  `json:"batch_id"`
	RunIndex            int     `json:"run_index"`
	PopulationSize      int     `json:"population_size"`
	Generations         int     `json:"generations"`
	RevisionProbability float64 `json:"revision_probability"`
	ReputationMode      bool    `json:"reputation_mode"`
	Seed                int64   `json:"seed"`
	CooperateProportion float64 `json:"final_cooperate_proportion"`
	AveragePayoff       float64 `json:"final_average_payoff"`
	CreatedAtUTC        string  `json:"created_at_utc"`
}

// IndexEntryFor flattens a run record into its run index line.
func IndexEntryFor(record model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:               record.ID,
		BatchID:             record.BatchID,
		RunIndex:            record.RunIndex,
		PopulationSize:      record.Config.PopulationSize,
		Generations:         record.Config.Generations,
		RevisionProbability: record.Config.RevisionProbability,
		ReputationMode:      record.Config.ReputationMode,
		Seed:                record.Seed,
		CooperateProportion: record.Last.CooperateProportion,
		AveragePayoff:       record.Last.AveragePayoff,
		CreatedAtUTC:        record.CreatedAtUTC,
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	record := artifacts.Record
	if record.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, record.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), runConfigFile{
		RunID:    record.ID,
		BatchID:  record.BatchID,
		RunIndex: record.RunIndex,
		Seed:     record.Seed,
		Config:   record.Config,
	}); err != nil {
		return "", err
	}
	summaries := artifacts.Summaries
	if summaries == nil {
		summaries = []model.GenerationSummary{}
	}
	if err := writeJSON(filepath.Join(runDir, generationsFile), summaries); err != nil {
		return "", err
	}
	if err := WriteGenerationCSV(filepath.Join(runDir, generationsCSV), summaries); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, finalFile), finalReport{
		Final:      record.Final,
		ElapsedMS:  record.ElapsedMS,
		Population: artifacts.FinalPopulation,
	}); err != nil {
		return "", err
	}

	return runDir, nil
}

func ReadGenerationSummaries(baseDir, runID string) ([]model.GenerationSummary, bool, error) {
	var summaries []model.GenerationSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, generationsFile), &summaries)
	if err != nil || !ok {
		return nil, ok, err
	}
	return summaries, true, nil
}

func ReadFinalSummary(baseDir, runID string) (model.FinalSummary, bool, error) {
	var report finalReport
	ok, err := readJSON(filepath.Join(baseDir, runID, finalFile), &report)
	if err != nil || !ok {
		return model.FinalSummary{}, ok, err
	}
	return report.Final, true, nil
}

func WriteBatchSummary(baseDir, batchID string, summary BatchSummary) (string, error) {
	if strings.TrimSpace(batchID) == "" {
		return "", fmt.Errorf("batch id is required")
	}
	dir := filepath.Join(baseDir, "batches", batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, batchFile)
	return path, writeJSON(path, summary)
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []RunIndexEntry{}, nil
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, generationsFile, generationsCSV, finalFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
