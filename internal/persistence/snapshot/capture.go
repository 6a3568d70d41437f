package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"voxelnoise.ai/internal/field"
	"voxelnoise.ai/internal/sampler"
)

// Capture samples kind over region and embeds the effective tuning, so a
// snapshot can be re-sampled later without the original config file.
func Capture(ctx context.Context, f *field.Field, kind string, region sampler.Region, opts sampler.Options) (DensitySnapshotV1, error) {
	fn, err := f.Sampler(kind)
	if err != nil {
		return DensitySnapshotV1{}, err
	}
	if opts.Label == "" {
		opts.Label = kind
	}
	g, err := sampler.Sample(ctx, fn, region, opts)
	if err != nil {
		return DensitySnapshotV1{}, err
	}
	t := f.Tuning()
	tuningYAML, err := yaml.Marshal(t)
	if err != nil {
		return DensitySnapshotV1{}, fmt.Errorf("snapshot: encode tuning: %w", err)
	}
	snap := FromGrid(f.Digest(), kind, t.Seed, t.RandomSource, g)
	snap.TuningYAML = tuningYAML
	return snap, nil
}

// PathFor names a snapshot file under dataDir by digest prefix, kind and
// capture time.
func PathFor(dataDir string, snap DensitySnapshotV1, at time.Time) string {
	digest := snap.Header.Digest
	if len(digest) > 12 {
		digest = digest[:12]
	}
	name := fmt.Sprintf("%s-%s-%d.snap.zst", digest, snap.Header.Kind, at.UnixMilli())
	return filepath.Join(dataDir, "snapshots", name)
}
