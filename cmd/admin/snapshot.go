package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxelnoise.ai/internal/field"
	"voxelnoise.ai/internal/persistence/archive"
	"voxelnoise.ai/internal/persistence/indexdb"
	"voxelnoise.ai/internal/persistence/snapshot"
	"voxelnoise.ai/internal/sampler"
	"voxelnoise.ai/internal/tuning"
)

func snapshotCmd(args []string) {
	sub := "read"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "write":
		snapshotWriteCmd(args)
	case "read":
		snapshotReadCmd(args)
	case "remote":
		snapshotRemoteCmd(args)
	case "pins":
		snapshotPinsCmd(args)
	default:
		fmt.Fprintln(os.Stderr, "usage: admin snapshot write|read|remote|pins [flags]")
		os.Exit(2)
	}
}

func snapshotWriteCmd(args []string) {
	fs := flag.NewFlagSet("snapshot write", flag.ExitOnError)
	ff := addFieldFlags(fs)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", tuning.KindDensity, "sample kind")
	aabb := fs.String("aabb", "", "region: x1,y1,z1:x2,y2,z2 (required)")
	step := fs.Int("step", 1, "region step in blocks")
	outPath := fs.String("out", "", "output snapshot path (optional; defaults under <data>/snapshots)")
	disableDB := fs.Bool("disable_db", false, "do not record the snapshot in the index")
	pin := fs.Bool("pin", false, "also pin the snapshot as the baseline for its tuning digest and kind")
	_ = fs.Parse(args)

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

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "noise.sqlite"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "open index:", err)
			os.Exit(1)
		}
		defer idx.Close()
	}

	logger := log.New(os.Stderr, "[admin] ", log.LstdFlags)
	path, snap, err := writeSnapshot(context.Background(), f, *kind, region, *dataDir, *outPath, idx, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot ok: kind=%s digest=%s cells=%d range=[%g, %g] out=%s\n",
		snap.Header.Kind, snap.Header.Digest[:12], snap.Header.Cells, snap.Min, snap.Max, path)
	if *pin {
		pinned, err := archive.PinBaseline(*dataDir, path, snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pin:", err)
			os.Exit(1)
		}
		fmt.Printf("pinned: %s\n", pinned)
	}
}

type baselineRow struct {
	archive.BaselineMeta
	Path  string `json:"path"`
	Stale *bool  `json:"stale,omitempty"`
}

func snapshotPinsCmd(args []string) {
	fs := flag.NewFlagSet("snapshot pins", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	digest := fs.String("digest", "", "only baselines for this tuning digest (>= 12 hex chars)")
	check := fs.Bool("check", false, "re-sample each baseline from its embedded tuning")
	_ = fs.Parse(args)

	rows, err := listBaselines(context.Background(), *dataDir, strings.TrimSpace(*digest), *check)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pins:", err)
		os.Exit(1)
	}
	stale := false
	for _, r := range rows {
		printJSON(r)
		if r.Stale != nil && *r.Stale {
			stale = true
		}
	}
	if stale {
		os.Exit(1)
	}
}

func listBaselines(ctx context.Context, dataDir, digest string, check bool) ([]baselineRow, error) {
	metas, paths, err := archive.Baselines(dataDir, digest)
	if err != nil {
		return nil, err
	}
	rows := make([]baselineRow, 0, len(metas))
	for i, m := range metas {
		row := baselineRow{BaselineMeta: m, Path: paths[i]}
		if check {
			snap, err := snapshot.ReadSnapshot(paths[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", paths[i], err)
			}
			st, err := snapshotStale(ctx, snap)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", paths[i], err)
			}
			row.Stale = &st
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// writeSnapshot captures and writes one snapshot. idx may be nil.
func writeSnapshot(ctx context.Context, f *field.Field, kind string, region sampler.Region, dataDir, outPath string, idx *indexdb.SQLiteIndex, logger *log.Logger) (string, snapshot.DensitySnapshotV1, error) {
	t := f.Tuning()
	snap, err := snapshot.Capture(ctx, f, kind, region, sampler.Options{
		Workers:  t.Sampler.Workers,
		MaxCells: t.Sampler.MaxRegionCells,
		Logger:   logger,
	})
	if err != nil {
		return "", snap, err
	}
	path := strings.TrimSpace(outPath)
	if path == "" {
		path = snapshot.PathFor(dataDir, snap, time.Now())
	}
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", snap, err
	}
	if idx != nil {
		if err := idx.UpsertTuning(t); err != nil {
			return path, snap, fmt.Errorf("index tuning: %w", err)
		}
		idx.RecordSnapshot(path, snap)
	}
	return path, snap, nil
}

type snapshotSummary struct {
	Path         string          `json:"path"`
	Header       snapshot.Header `json:"header"`
	Seed         int64           `json:"seed"`
	RandomSource string          `json:"random_source"`
	Region       sampler.Region  `json:"region"`
	Dims         [3]int          `json:"dims"`
	Min          float64         `json:"min"`
	Max          float64         `json:"max"`
	Stale        *bool           `json:"stale,omitempty"`
}

func snapshotReadCmd(args []string) {
	fs := flag.NewFlagSet("snapshot read", flag.ExitOnError)
	headerOnly := fs.Bool("header", false, "print only the header line")
	values := fs.Bool("values", false, "also print every cell as a JSON line")
	check := fs.Bool("check", false, "re-sample from the embedded tuning and compare")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin snapshot read [-header] [-values] [-check] <path>")
		os.Exit(2)
	}
	path := fs.Arg(0)

	if *headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		printJSON(h)
		return
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	sum := summarize(path, snap)
	if *check {
		stale, err := snapshotStale(context.Background(), snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "check:", err)
			os.Exit(1)
		}
		sum.Stale = &stale
	}
	printJSON(sum)
	if *values {
		g := snap.Grid()
		for ix := 0; ix < g.NX; ix++ {
			for iz := 0; iz < g.NZ; iz++ {
				for iy := 0; iy < g.NY; iy++ {
					p := g.Pos(ix, iy, iz)
					printJSON(sampleRow{X: p.X, Y: p.Y, Z: p.Z, Value: g.At(ix, iy, iz)})
				}
			}
		}
	}
	if sum.Stale != nil && *sum.Stale {
		os.Exit(1)
	}
}

func summarize(path string, snap snapshot.DensitySnapshotV1) snapshotSummary {
	return snapshotSummary{
		Path:         path,
		Header:       snap.Header,
		Seed:         snap.Seed,
		RandomSource: snap.RandomSource,
		Region:       snap.Region,
		Dims:         [3]int{snap.NX, snap.NY, snap.NZ},
		Min:          snap.Min,
		Max:          snap.Max,
	}
}

// snapshotStale rebuilds the field from the embedded tuning and reports
// whether any stored value differs bit-for-bit from a fresh sample.
func snapshotStale(ctx context.Context, snap snapshot.DensitySnapshotV1) (bool, error) {
	if len(snap.TuningYAML) == 0 {
		return false, fmt.Errorf("snapshot has no embedded tuning")
	}
	t, err := tuning.Parse(snap.TuningYAML)
	if err != nil {
		return false, err
	}
	f, err := field.New(t)
	if err != nil {
		return false, err
	}
	if f.Digest() != snap.Header.Digest {
		return true, nil
	}
	fn, err := f.Sampler(snap.Header.Kind)
	if err != nil {
		return false, err
	}
	g, err := sampler.Sample(ctx, fn, snap.Region, sampler.Options{Workers: t.Sampler.Workers})
	if err != nil {
		return false, err
	}
	for i, v := range g.Values {
		if v != snap.Values[i] {
			return true, nil
		}
	}
	return false, nil
}
