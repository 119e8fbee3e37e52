package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"staghunt/internal/model"
)

var generationHeader = []string{
	"run",
	"generation",
	"cooperate_count",
	"defect_count",
	"cooperate_proportion",
	"average_payoff",
	"unmatched",
}

// CSVSink streams generation summaries as CSV rows. The header is written
// before the first row.
type CSVSink struct {
	writer      *csv.Writer
	closer      io.Closer
	wroteHeader bool
}

func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{writer: csv.NewWriter(w)}
}

// CreateCSVSink truncates path and streams into it.
func CreateCSVSink(path string) (*CSVSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	sink := NewCSVSink(file)
	sink.closer = file
	return sink, nil
}

func (s *CSVSink) ObserveGeneration(summary model.GenerationSummary) error {
	if !s.wroteHeader {
		if err := s.writer.Write(generationHeader); err != nil {
			return err
		}
		s.wroteHeader = true
	}
	if err := s.writer.Write(generationRow(summary)); err != nil {
		return err
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVSink) Close() error {
	s.writer.Flush()
	err := s.writer.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}

func generationRow(s model.GenerationSummary) []string {
	return []string{
		strconv.Itoa(s.Run),
		strconv.Itoa(s.Generation),
		strconv.Itoa(s.CooperateCount),
		strconv.Itoa(s.DefectCount),
		strconv.FormatFloat(s.CooperateProportion, 'f', -1, 64),
		strconv.FormatFloat(s.AveragePayoff, 'f', -1, 64),
		strconv.Itoa(s.Unmatched),
	}
}

func WriteGenerationCSV(path string, summaries []model.GenerationSummary) error {
	sink, err := CreateCSVSink(path)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		if err := sink.writer.Write(generationHeader); err != nil {
			_ = sink.Close()
			return err
		}
	}
	for _, summary := range summaries {
		if err := sink.ObserveGeneration(summary); err != nil {
			_ = sink.Close()
			return err
		}
	}
	return sink.Close()
}

func ReadGenerationCSV(r io.Reader) ([]model.GenerationSummary, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.GenerationSummary{}, nil
		}
		return nil, err
	}
	if len(header) < len(generationHeader) {
		return nil, fmt.Errorf("generation csv header must have %d columns, got %d", len(generationHeader), len(header))
	}

	summaries := make([]model.GenerationSummary, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		summary, err := parseGenerationRow(record)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func ReadGenerationCSVFile(path string) ([]model.GenerationSummary, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	summaries, err := ReadGenerationCSV(file)
	if err != nil {
		return nil, false, err
	}
	return summaries, true, nil
}

func parseGenerationRow(record []string) (model.GenerationSummary, error) {
	if len(record) < len(generationHeader) {
		return model.GenerationSummary{}, fmt.Errorf("generation csv row must have %d columns, got %d", len(generationHeader), len(record))
	}
	ints := make([]int, 0, 5)
	for _, idx := range []int{0, 1, 2, 3, 6} {
		v, err := strconv.Atoi(record[idx])
		if err != nil {
			return model.GenerationSummary{}, fmt.Errorf("column %s: %w", generationHeader[idx], err)
		}
		ints = append(ints, v)
	}
	proportion, err := strconv.ParseFloat(record[4], 64)
	if err != nil {
		return model.GenerationSummary{}, fmt.Errorf("column %s: %w", generationHeader[4], err)
	}
	payoff, err := strconv.ParseFloat(record[5], 64)
	if err != nil {
		return model.GenerationSummary{}, fmt.Errorf("column %s: %w", generationHeader[5], err)
	}
	return model.GenerationSummary{
		Run:                 ints[0],
		Generation:          ints[1],
		CooperateCount:      ints[2],
		DefectCount:         ints[3],
		CooperateProportion: proportion,
		AveragePayoff:       payoff,
		Unmatched:           ints[4],
	}, nil
}
