package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voxelnoise.ai/internal/field"
	"voxelnoise.ai/internal/persistence/indexdb"
	"voxelnoise.ai/internal/sampler"
)

func goldenCmd(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin golden record|verify|list [flags]")
		os.Exit(2)
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("golden "+sub, flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/noise.sqlite)")
	var (
		ff    fieldFlags
		kinds *string
		aabb  *string
		step  *int
		tol   *float64
	)
	switch sub {
	case "record":
		ff = addFieldFlags(fs)
		kinds = fs.String("kinds", "", "comma-separated kinds (default: every kind)")
		aabb = fs.String("aabb", "", "region: x1,y1,z1:x2,y2,z2 (required)")
		step = fs.Int("step", 16, "region step in blocks")
	case "verify":
		ff = addFieldFlags(fs)
		tol = fs.Float64("tol", 0, "absolute tolerance (0 = bit-identical)")
	case "list":
	default:
		fmt.Fprintln(os.Stderr, "usage: admin golden record|verify|list [flags]")
		os.Exit(2)
	}
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "noise.sqlite")
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	defer idx.Close()
	ctx := context.Background()

	switch sub {
	case "record":
		if strings.TrimSpace(*aabb) == "" {
			fmt.Fprintln(os.Stderr, "missing -aabb")
			os.Exit(2)
		}
		region, err := parseRegion(*aabb, *step)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -aabb:", err)
			os.Exit(2)
		}
		f, err := ff.load()
		if err != nil {
			fmt.Fprintln(os.Stderr, "load field:", err)
			os.Exit(1)
		}
		n, err := recordGoldens(ctx, idx, f, splitList(*kinds), region)
		if err != nil {
			fmt.Fprintln(os.Stderr, "record:", err)
			os.Exit(1)
		}
		fmt.Printf("golden ok: digest=%s recorded=%d\n", f.Digest()[:12], n)

	case "verify":
		f, err := ff.load()
		if err != nil {
			fmt.Fprintln(os.Stderr, "load field:", err)
			os.Exit(1)
		}
		checked, mismatches, err := idx.Verify(ctx, f, *tol)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		for _, m := range mismatches {
			printJSON(m)
		}
		if checked == 0 {
			fmt.Fprintf(os.Stderr, "no goldens recorded for digest %s\n", f.Digest()[:12])
			os.Exit(2)
		}
		fmt.Printf("verify: digest=%s checked=%d mismatches=%d\n", f.Digest()[:12], checked, len(mismatches))
		if len(mismatches) > 0 {
			os.Exit(1)
		}

	case "list":
		counts, err := idx.Digests(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		digests := make([]string, 0, len(counts))
		for d := range counts {
			digests = append(digests, d)
		}
		sort.Strings(digests)
		for _, d := range digests {
			t, ok, err := idx.Tuning(d)
			if err != nil {
				fmt.Fprintln(os.Stderr, "tuning:", err)
				os.Exit(1)
			}
			row := struct {
				Digest       string `json:"tuning_digest"`
				Goldens      int    `json:"goldens"`
				Seed         int64  `json:"seed,omitempty"`
				RandomSource string `json:"random_source,omitempty"`
			}{Digest: d, Goldens: counts[d]}
			if ok {
				row.Seed, row.RandomSource = t.Seed, t.RandomSource
			}
			printJSON(row)
		}
	}
}

// recordGoldens samples every requested kind over region and stores the
// values under the field's digest. An empty kinds list means every kind.
func recordGoldens(ctx context.Context, idx *indexdb.SQLiteIndex, f *field.Field, kinds []string, region sampler.Region) (int, error) {
	if len(kinds) == 0 {
		kinds = f.Kinds()
	}
	if err := idx.UpsertTuning(f.Tuning()); err != nil {
		return 0, err
	}
	var goldens []indexdb.Golden
	for _, kind := range kinds {
		rows, err := sampleRegion(ctx, f, kind, region, 0, nil)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", kind, err)
		}
		for _, r := range rows {
			goldens = append(goldens, indexdb.Golden{Kind: kind, Pos: posOf(r), Value: r.Value})
		}
	}
	if err := idx.RecordGoldens(ctx, f.Digest(), goldens); err != nil {
		return 0, err
	}
	return len(goldens), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
