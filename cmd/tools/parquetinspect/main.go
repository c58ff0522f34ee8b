package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	journal "github.com/rexbrahh/amm-arb/sinks/parquet"
)

type summary struct {
	Files               int            `json:"files"`
	TotalRows           int            `json:"total_rows"`
	Executions          int            `json:"executions"`
	ByState             map[string]int `json:"by_state"`
	AbortReasons        map[string]int `json:"abort_reasons,omitempty"`
	LeglessAborts       int            `json:"legless_aborts"`
	MissingSignatures   int            `json:"missing_signatures"`
	RetriedLegs         int            `json:"retried_legs"`
	RealizedProfit      int64          `json:"realized_profit"`
	ExpectedProfit      int64          `json:"expected_profit"`
	UnderperformingLegs int            `json:"underperforming_legs"`
	Routes              []string       `json:"routes"`
}

func main() {
	pattern := flag.String("pattern", "", "glob pattern selecting journal files to inspect")
	flag.Parse()

	if *pattern == "" {
		log.Fatal("pattern is required")
	}

	files, err := filepath.Glob(*pattern)
	if err != nil {
		log.Fatalf("glob parquet files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no parquet files match pattern %s", *pattern)
	}

	acc := newAccumulator()
	for _, path := range files {
		if err := inspectFile(path, acc); err != nil {
			log.Fatalf("inspect %s: %v", path, err)
		}
	}

	sum := acc.summary()
	sum.Files = len(files)

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&sum); err != nil {
		log.Fatalf("encode summary: %v", err)
	}
}

func inspectFile(path string, acc *accumulator) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	rows, err := journal.ReadJournal(file, info.Size())
	if err != nil {
		return err
	}
	for i := range rows {
		acc.add(&rows[i])
	}
	return nil
}

// accumulator folds leg rows into per-execution totals. Execution-level
// columns repeat on every leg row, so they are counted once per id.
type accumulator struct {
	sum    summary
	seen   map[string]struct{}
	routes map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		sum: summary{
			ByState:      make(map[string]int),
			AbortReasons: make(map[string]int),
		},
		seen:   make(map[string]struct{}),
		routes: make(map[string]struct{}),
	}
}

func (a *accumulator) add(row *journal.JournalRow) {
	a.sum.TotalRows++

	if _, ok := a.seen[row.ExecutionID]; !ok {
		a.seen[row.ExecutionID] = struct{}{}
		a.sum.Executions++
		a.sum.ByState[row.State]++
		a.sum.RealizedProfit += row.RealizedProfit
		a.sum.ExpectedProfit += row.ExpectedProfit
		if row.AbortReason != "" {
			a.sum.AbortReasons[row.AbortReason]++
		}
		if row.RouteKey != "" {
			a.routes[row.RouteKey] = struct{}{}
		}
	}

	if row.LegIndex < 0 {
		a.sum.LeglessAborts++
		return
	}
	if row.Signature == "" {
		a.sum.MissingSignatures++
	}
	if row.Attempts > 1 {
		a.sum.RetriedLegs++
	}
	if row.ActualOut < row.ExpectedOut {
		a.sum.UnderperformingLegs++
	}
}

func (a *accumulator) summary() summary {
	out := a.sum
	if len(out.AbortReasons) == 0 {
		out.AbortReasons = nil
	}
	out.Routes = make([]string, 0, len(a.routes))
	for r := range a.routes {
		out.Routes = append(out.Routes, r)
	}
	sort.Strings(out.Routes)
	return out
}
