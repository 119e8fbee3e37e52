package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"staghunt/internal/config"
)

// lineReader is the part of *readline.Instance the prompt needs.
type lineReader interface {
	SetPrompt(prompt string)
	Readline() (string, error)
}

var errPromptAborted = errors.New("prompt aborted")

func newPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Ask for simulation parameters interactively, then run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rl, closeReader, err := newLineReader(cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer closeReader()

			printBanner(out)
			if err := promptSimulation(rl, out, cfg); err != nil {
				return err
			}
			return simulate(cmd, cfg)
		},
	}
}

// newLineReader uses readline on a terminal and a plain line scanner for
// piped input.
func newLineReader(in io.Reader, out io.Writer) (lineReader, func(), error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return nil, nil, err
		}
		return rl, func() { _ = rl.Close() }, nil
	}
	return &scanReader{scanner: bufio.NewScanner(in), out: out}, func() {}, nil
}

type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
}

func (r *scanReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

func (r *scanReader) Readline() (string, error) {
	fmt.Fprint(r.out, r.prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	fmt.Fprintln(r.out)
	return r.scanner.Text(), nil
}

// promptSimulation asks for each simulation parameter. An empty answer keeps
// the current value; an invalid one is asked again.
func promptSimulation(rl lineReader, out io.Writer, cfg *config.Config) error {
	s := &cfg.Simulation
	ask := func(prompt string, parse func(string) error) error {
		for {
			rl.SetPrompt(prompt)
			line, err := rl.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return errPromptAborted
				}
				return err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				return nil
			}
			if err := parse(line); err != nil {
				fmt.Fprintf(out, "invalid value %q: %v\n", line, err)
				continue
			}
			return nil
		}
	}
	intIn := func(dst *int, min int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			if n < min {
				return fmt.Errorf("must be >= %d", min)
			}
			*dst = n
			return nil
		}
	}
	unit := func(dst *float64) func(string) error {
		return func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			if !(f >= 0 && f <= 1) {
				return fmt.Errorf("must be in [0,1]")
			}
			*dst = f
			return nil
		}
	}

	steps := []struct {
		prompt string
		parse  func(string) error
	}{
		{fmt.Sprintf("Population size (default %d): ", s.PopulationSize), intIn(&s.PopulationSize, 2)},
		{fmt.Sprintf("Initial %s ratio (0-1, default %v): ", cfg.Labels.Cooperate, s.InitialCooperateRatio), unit(&s.InitialCooperateRatio)},
		{fmt.Sprintf("Revision probability e (0-1, default %v): ", s.RevisionProbability), unit(&s.RevisionProbability)},
		{fmt.Sprintf("Number of generations (default %d): ", s.Generations), intIn(&s.Generations, 1)},
		{fmt.Sprintf("Number of simulation runs (default %d): ", s.Runs), intIn(&s.Runs, 1)},
		{fmt.Sprintf("Use reputation mode? (y/n, default %s): ", yesNo(s.ReputationMode)), func(v string) error {
			switch strings.ToLower(v) {
			case "y", "yes":
				s.ReputationMode = true
			case "n", "no":
				s.ReputationMode = false
			default:
				return fmt.Errorf("answer y or n")
			}
			return nil
		}},
	}
	for _, step := range steps {
		if err := ask(step.prompt, step.parse); err != nil {
			return err
		}
	}
	_, err := cfg.EngineConfig()
	return err
}

func yesNo(v bool) string {
	if v {
		return "y"
	}
	return "n"
}
