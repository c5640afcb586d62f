package memory

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ConsolidateResult reports which daily logs were folded into long-term
// memory.
type ConsolidateResult struct {
	DatesProcessed []string
	BlocksAdded    int
}

// Per-day cap on text folded into a long-term block.
const consolidateMaxCharsPerDay = 6000

// Consolidate summarises recent daily logs into long-term blocks, one block
// per day, titled by date. Tool-call and observation lines are stripped so
// only real dialogue is preserved. Days are read concurrently; writes to the
// long-term store are serialised.
func Consolidate(workspace string, lt LongTerm, sinceDays int) (ConsolidateResult, error) {
	logsDir := filepath.Join(Root(workspace), logsDirName)
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return ConsolidateResult{}, nil
		}
		return ConsolidateResult{}, err
	}

	cutoff := time.Now().AddDate(0, 0, -sinceDays)

	var dates []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		stem := strings.TrimSuffix(name, ".md")
		day, err := time.Parse("2006-01-02", stem)
		if err != nil || day.Before(cutoff) {
			continue
		}
		dates = append(dates, stem)
	}
	sort.Strings(dates)

	var (
		mu     sync.Mutex
		result ConsolidateResult
	)
	var g errgroup.Group
	g.SetLimit(4)
	for _, date := range dates {
		g.Go(func() error {
			content, err := os.ReadFile(filepath.Join(logsDir, date+".md"))
			if err != nil {
				return nil // skip unreadable days
			}
			summary := summarizeLog(string(content))
			if summary == "" {
				return nil
			}
			mu.Lock()
			lt.Add("Consolidated " + date + ":\n\n" + summary)
			result.DatesProcessed = append(result.DatesProcessed, date)
			result.BlocksAdded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	sort.Strings(result.DatesProcessed)
	return result, nil
}

// summarizeLog strips tool-dialogue and separator lines from a daily log
// and truncates the remainder.
func summarizeLog(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || t == "---" {
			continue
		}
		if strings.HasPrefix(t, "Tool call:") || strings.HasPrefix(t, "Observation from ") {
			continue
		}
		kept = append(kept, t)
	}
	s := strings.Join(kept, "\n")
	runes := []rune(s)
	if len(runes) > consolidateMaxCharsPerDay {
		return string(runes[:consolidateMaxCharsPerDay]) + "..."
	}
	return s
}
