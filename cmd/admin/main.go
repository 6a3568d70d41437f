package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"voxelnoise.ai/internal/field"
	"voxelnoise.ai/internal/sampler"
	"voxelnoise.ai/internal/synth"
	"voxelnoise.ai/internal/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "sample":
			sampleCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "golden":
			goldenCmd(os.Args[2:])
			return
		case "requests":
			requestsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	describeCmd(os.Args[1:])
}

// fieldFlags are shared by every subcommand that builds a field locally.
type fieldFlags struct {
	tuningPath *string
	seed       *string
}

func addFieldFlags(fs *flag.FlagSet) fieldFlags {
	return fieldFlags{
		tuningPath: fs.String("tuning", "./configs/noise.yaml", "path to noise tuning yaml (empty for built-in defaults)"),
		seed:       fs.String("seed", "", "override the tuning seed"),
	}
}

func (ff fieldFlags) load() (*field.Field, error) {
	return loadField(*ff.tuningPath, *ff.seed)
}

func loadField(tuningPath, seed string) (*field.Field, error) {
	t, err := tuning.Load(strings.TrimSpace(tuningPath))
	if err != nil {
		return nil, err
	}
	if s := strings.TrimSpace(seed); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad -seed %q: %w", s, err)
		}
		t.Seed = v
	}
	return field.New(t)
}

type kindDescription struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type fieldDescription struct {
	Digest       string            `json:"tuning_digest"`
	Seed         int64             `json:"seed"`
	RandomSource string            `json:"random_source"`
	Kinds        []kindDescription `json:"kinds"`
	Density      string            `json:"density"`
}

func describe(f *field.Field) fieldDescription {
	d := fieldDescription{
		Digest:       f.Digest(),
		Seed:         f.Seed(),
		RandomSource: f.Tuning().RandomSource,
		Density:      f.Density().String(),
	}
	for _, k := range f.Kinds() {
		b, _ := f.Bounds(k)
		d.Kinds = append(d.Kinds, kindDescription{Name: k, Min: b.Min, Max: b.Max})
	}
	return d
}

func describeCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	ff := addFieldFlags(fs)
	verbose := fs.Bool("v", false, "include the full density noise description")
	_ = fs.Parse(args)

	f, err := ff.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load field:", err)
		os.Exit(1)
	}
	d := describe(f)
	if !*verbose {
		d.Density = ""
	}
	printJSON(d)
}

type sampleRow struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Z     int     `json:"z"`
	Value float64 `json:"value"`
}

func sampleCmd(args []string) {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	ff := addFieldFlags(fs)
	kind := fs.String("kind", tuning.KindDensity, "sample kind")
	at := fs.String("at", "", "single position: x,y,z")
	aabb := fs.String("aabb", "", "region: x1,y1,z1:x2,y2,z2")
	step := fs.Int("step", 1, "region step in blocks")
	workers := fs.Int("workers", 0, "sampler workers (0 = tuning default)")
	quiet := fs.Bool("q", false, "suppress progress logging")
	_ = fs.Parse(args)

	if (*at == "") == (*aabb == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -at or -aabb is required")
		os.Exit(2)
	}

	f, err := ff.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load field:", err)
		os.Exit(1)
	}

	if *at != "" {
		p, err := parseVec3(*at)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -at:", err)
			os.Exit(2)
		}
		v, err := f.Sample(*kind, p[0], p[1], p[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, "sample:", err)
			os.Exit(1)
		}
		printJSON(sampleRow{X: p[0], Y: p[1], Z: p[2], Value: v})
		return
	}

	region, err := parseRegion(*aabb, *step)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -aabb:", err)
		os.Exit(2)
	}
	var progress io.Writer = os.Stderr
	if *quiet {
		progress = io.Discard
	}
	rows, err := sampleRegion(context.Background(), f, *kind, region, *workers, log.New(progress, "[admin] ", log.LstdFlags))
	if err != nil {
		fmt.Fprintln(os.Stderr, "sample:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

// sampleRegion returns one row per cell in grid order.
func sampleRegion(ctx context.Context, f *field.Field, kind string, region sampler.Region, workers int, logger *log.Logger) ([]sampleRow, error) {
	fn, err := f.Sampler(kind)
	if err != nil {
		return nil, err
	}
	t := f.Tuning()
	if workers <= 0 {
		workers = t.Sampler.Workers
	}
	g, err := sampler.Sample(ctx, fn, region, sampler.Options{
		Workers:  workers,
		MaxCells: t.Sampler.MaxRegionCells,
		Logger:   logger,
		Label:    kind,
	})
	if err != nil {
		return nil, err
	}
	rows := make([]sampleRow, 0, len(g.Values))
	for ix := 0; ix < g.NX; ix++ {
		for iz := 0; iz < g.NZ; iz++ {
			for iy := 0; iy < g.NY; iy++ {
				p := g.Pos(ix, iy, iz)
				rows = append(rows, sampleRow{X: p.X, Y: p.Y, Z: p.Z, Value: g.At(ix, iy, iz)})
			}
		}
	}
	return rows, nil
}

func parseRegion(aabb string, step int) (sampler.Region, error) {
	min, max, err := parseAABB(aabb)
	if err != nil {
		return sampler.Region{}, err
	}
	return sampler.Region{
		Min:  synth.BlockPos{X: min[0], Y: min[1], Z: min[2]},
		Max:  synth.BlockPos{X: max[0], Y: max[1], Z: max[2]},
		Step: step,
	}, nil
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

func posOf(r sampleRow) synth.BlockPos {
	return synth.BlockPos{X: r.X, Y: r.Y, Z: r.Z}
}
