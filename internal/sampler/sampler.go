// Package sampler evaluates a field over a block region with a column
// worker pool.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"

	"voxelnoise.ai/internal/synth"
)

// CoordLimit bounds every region coordinate on each axis, which keeps
// per-axis spans and cell counts inside int range.
const CoordLimit = 30_000_000

var (
	ErrRegionTooLarge = errors.New("sampler: region too large")
	ErrOutOfBounds    = errors.New("sampler: coordinates out of bounds")
)

// Func is a sampled value at a block coordinate. It must be safe for
// concurrent use.
type Func func(x, y, z int) float64

// Region is an inclusive box sampled every Step blocks on each axis.
type Region struct {
	Min  synth.BlockPos `json:"min"`
	Max  synth.BlockPos `json:"max"`
	Step int            `json:"step"`
}

// Dims returns the sample count per axis.
func (r Region) Dims() (nx, ny, nz int) {
	step := r.Step
	if step <= 0 {
		step = 1
	}
	return (r.Max.X-r.Min.X)/step + 1, (r.Max.Y-r.Min.Y)/step + 1, (r.Max.Z-r.Min.Z)/step + 1
}

func (r Region) Cells() int {
	nx, ny, nz := r.Dims()
	return nx * ny * nz
}

// Validate checks step, bounds and size. maxCells <= 0 only requires the
// cell count to fit in an int.
func (r Region) Validate(maxCells int) error {
	if r.Step < 1 {
		return fmt.Errorf("sampler: step must be >= 1, got %d", r.Step)
	}
	if !inBounds(r.Min) || !inBounds(r.Max) {
		return fmt.Errorf("%w: %v..%v must be within ±%d", ErrOutOfBounds, r.Min, r.Max, CoordLimit)
	}
	if r.Max.X < r.Min.X || r.Max.Y < r.Min.Y || r.Max.Z < r.Min.Z {
		return fmt.Errorf("sampler: max %v below min %v", r.Max, r.Min)
	}
	nx, ny, nz := r.Dims()
	cells, ok := cellCount(nx, ny, nz)
	if !ok || (maxCells > 0 && cells > maxCells) {
		return fmt.Errorf("%w: %dx%dx%d exceeds %d cells", ErrRegionTooLarge, nx, ny, nz, maxCells)
	}
	return nil
}

func inBounds(p synth.BlockPos) bool {
	for _, v := range [3]int{p.X, p.Y, p.Z} {
		if v < -CoordLimit || v > CoordLimit {
			return false
		}
	}
	return true
}

// cellCount multiplies the axis counts, reporting false on overflow.
func cellCount(nx, ny, nz int) (int, bool) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return 0, false
	}
	if nx > math.MaxInt/ny {
		return 0, false
	}
	xy := nx * ny
	if xy > math.MaxInt/nz {
		return 0, false
	}
	return xy * nz, true
}

// Grid holds values x-major, then z, then y: index ((ix*NZ)+iz)*NY + iy.
type Grid struct {
	Region Region    `json:"region"`
	NX     int       `json:"nx"`
	NY     int       `json:"ny"`
	NZ     int       `json:"nz"`
	Values []float64 `json:"values"`
}

func (g *Grid) Index(ix, iy, iz int) int  { return (ix*g.NZ+iz)*g.NY + iy }
func (g *Grid) At(ix, iy, iz int) float64 { return g.Values[g.Index(ix, iy, iz)] }

// Pos returns the block coordinate of grid cell (ix, iy, iz).
func (g *Grid) Pos(ix, iy, iz int) synth.BlockPos {
	s := g.Region.Step
	return synth.BlockPos{X: g.Region.Min.X + ix*s, Y: g.Region.Min.Y + iy*s, Z: g.Region.Min.Z + iz*s}
}

// Range returns the smallest and largest sampled values.
func (g *Grid) Range() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range g.Values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

type Options struct {
	// Workers <= 0 uses twice GOMAXPROCS.
	Workers int
	// MaxCells <= 0 disables the size check.
	MaxCells int
	// Logger receives progress every 10%; nil is silent.
	Logger *log.Logger
	Label  string
}

// Sample evaluates fn over every cell of region. Columns (fixed x, z) are
// the unit of work. Cancelling ctx stops the pool and returns ctx.Err().
func Sample(ctx context.Context, fn Func, region Region, opts Options) (*Grid, error) {
	if err := region.Validate(opts.MaxCells); err != nil {
		return nil, err
	}
	nx, ny, nz := region.Dims()
	g := &Grid{Region: region, NX: nx, NY: ny, NZ: nz, Values: make([]float64, nx*ny*nz)}
	totalColumns := nx * nz
	label := opts.Label
	if label == "" {
		label = "region"
	}
	logf := func(format string, args ...any) {
		if opts.Logger != nil {
			opts.Logger.Printf(format, args...)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type column struct {
		ix, iz int
	}

	workers := workerCount(opts.Workers, totalColumns)
	tasks := make(chan column, workers)
	done := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range tasks {
				if ctx.Err() != nil {
					return
				}
				x := region.Min.X + c.ix*region.Step
				z := region.Min.Z + c.iz*region.Step
				base := g.Index(c.ix, 0, c.iz)
				for iy := 0; iy < ny; iy++ {
					g.Values[base+iy] = fn(x, region.Min.Y+iy*region.Step, z)
				}
				select {
				case done <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	go func() {
		defer close(tasks)
		for ix := 0; ix < nx; ix++ {
			for iz := 0; iz < nz; iz++ {
				select {
				case <-ctx.Done():
					return
				case tasks <- column{ix: ix, iz: iz}:
				}
			}
		}
	}()

	finished := 0
	nextLogPercent := 10
	for range done {
		finished++
		progress := finished * 100 / totalColumns
		if progress >= nextLogPercent {
			logf("%s sampling progress: %d%%", label, progress)
			nextLogPercent = (progress/10 + 1) * 10
		}
	}
	if err := ctx.Err(); err != nil && finished < totalColumns {
		return nil, err
	}
	return g, nil
}

func workerCount(configured, totalColumns int) int {
	workers := configured
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) * 2
	}
	if workers > totalColumns {
		workers = totalColumns
	}
	if workers <= 0 {
		workers = 1
	}
	return workers
}
