package stats

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"staghunt/internal/model"
)

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	sink := NewCSVSink(&buf)
	rows := []model.GenerationSummary{
		{Run: 1, Generation: 1, CooperateCount: 2, DefectCount: 2, CooperateProportion: 0.5, AveragePayoff: 1.5},
		{Run: 1, Generation: 2, CooperateCount: 3, DefectCount: 1, CooperateProportion: 0.75, AveragePayoff: 2.25, Unmatched: 1},
	}
	for _, row := range rows {
		if err := sink.ObserveGeneration(row); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if lines[0] != "run,generation,cooperate_count,defect_count,cooperate_proportion,average_payoff,unmatched" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if lines[1] != "1,1,2,2,0.5,1.5,0" {
		t.Fatalf("unexpected first row: %q", lines[1])
	}

	parsed, err := ReadGenerationCSV(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(parsed) != 2 || parsed[1] != rows[1] {
		t.Fatalf("unexpected parsed rows: %+v", parsed)
	}
}

func TestWriteGenerationCSVEmptyHasHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := WriteGenerationCSV(path, nil); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	rows, ok, err := ReadGenerationCSVFile(path)
	if err != nil || !ok {
		t.Fatalf("read csv: ok=%t err=%v", ok, err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}

func TestReadGenerationCSVRejectsMalformed(t *testing.T) {
	cases := []string{
		"run,generation\n",
		"run,generation,cooperate_count,defect_count,cooperate_proportion,average_payoff,unmatched\n1,x,2,2,0.5,1.5,0\n",
		"run,generation,cooperate_count,defect_count,cooperate_proportion,average_payoff,unmatched\n1,1,2,2,half,1.5,0\n",
	}
	for _, input := range cases {
		if _, err := ReadGenerationCSV(strings.NewReader(input)); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestReadGenerationCSVFileMissing(t *testing.T) {
	_, ok, err := ReadGenerationCSVFile(filepath.Join(t.TempDir(), "none.csv"))
	if err != nil || ok {
		t.Fatalf("expected not found, got ok=%t err=%v", ok, err)
	}
}

type failingCloser struct{}

func (failingCloser) Close() error {
	return errors.New("disk full")
}

func TestCSVSinkCloseReportsCloserError(t *testing.T) {
	sink := NewCSVSink(&bytes.Buffer{})
	sink.closer = failingCloser{}
	if err := sink.ObserveGeneration(model.GenerationSummary{Run: 1, Generation: 1}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := sink.Close(); err == nil || err.Error() != "disk full" {
		t.Fatalf("expected closer error, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}
