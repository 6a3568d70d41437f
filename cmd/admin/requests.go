package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	vlog "voxelnoise.ai/internal/persistence/log"
)

type requestFilter struct {
	Session    string
	Kind       string
	ErrorsOnly bool
	Since      time.Time
}

func (f requestFilter) match(e vlog.RequestEntry) bool {
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.ErrorsOnly && e.Code == "" {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

func requestsCmd(args []string) {
	fs := flag.NewFlagSet("requests", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	session := fs.String("session", "", "session id filter")
	kind := fs.String("kind", "", "sample kind filter")
	errorsOnly := fs.Bool("errors", false, "only failed requests")
	since := fs.Duration("since", 0, "only requests newer than this (e.g. 1h)")
	summary := fs.Bool("summary", false, "print per-kind totals instead of entries")
	_ = fs.Parse(args)

	filter := requestFilter{Session: *session, Kind: *kind, ErrorsOnly: *errorsOnly}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}
	entries, err := readRequests(filepath.Join(*dataDir, "requests"), filter)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read requests:", err)
		os.Exit(1)
	}
	if !*summary {
		for _, e := range entries {
			printJSON(e)
		}
		return
	}
	for _, s := range summarizeRequests(entries) {
		printJSON(s)
	}
}

// readRequests returns matching entries from every hourly log in dir, in
// write order.
func readRequests(dir string, filter requestFilter) ([]vlog.RequestEntry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "requests-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []vlog.RequestEntry
	for _, name := range names {
		path := filepath.Join(dir, name)
		err := vlog.ReadJSONL(path, func(raw json.RawMessage) error {
			var e vlog.RequestEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", name, err)
			}
			if filter.match(e) {
				out = append(out, e)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type requestSummary struct {
	Kind       string `json:"kind"`
	Requests   int    `json:"requests"`
	Errors     int    `json:"errors"`
	Cells      int    `json:"cells"`
	DurationMs int64  `json:"duration_ms"`
}

func summarizeRequests(entries []vlog.RequestEntry) []requestSummary {
	byKind := map[string]*requestSummary{}
	for _, e := range entries {
		s := byKind[e.Kind]
		if s == nil {
			s = &requestSummary{Kind: e.Kind}
			byKind[e.Kind] = s
		}
		s.Requests++
		if e.Code != "" {
			s.Errors++
		}
		s.Cells += e.Cells
		s.DurationMs += e.DurationMs
	}
	out := make([]requestSummary, 0, len(byKind))
	for _, s := range byKind {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
