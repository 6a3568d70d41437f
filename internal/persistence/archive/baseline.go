package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"voxelnoise.ai/internal/persistence/snapshot"
)

// BaselineMeta describes one pinned snapshot.
type BaselineMeta struct {
	Digest       string `json:"tuning_digest"`
	Kind         string `json:"kind"`
	Seed         int64  `json:"seed"`
	RandomSource string `json:"random_source"`
	Snapshot     string `json:"snapshot"`
	Cells        int    `json:"cells"`
	CreatedAt    string `json:"created_at"`
}

// PinBaseline copies a written snapshot into
// `dataDir/archives/<digest[:12]>/<kind>/` next to a meta.json. A later pin
// for the same digest and kind replaces the earlier one.
func PinBaseline(dataDir, snapshotPath string, snap snapshot.DensitySnapshotV1) (string, error) {
	digest := snap.Header.Digest
	if len(digest) < 12 || snap.Header.Kind == "" {
		return "", fmt.Errorf("snapshot header is missing digest or kind")
	}
	dir := baselineDir(dataDir, digest, snap.Header.Kind)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := BaselineMeta{
		Digest:       digest,
		Kind:         snap.Header.Kind,
		Seed:         snap.Seed,
		RandomSource: snap.RandomSource,
		Snapshot:     filepath.Base(dst),
		Cells:        snap.Header.Cells,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

// Baselines lists pinned snapshots for digest, or for every digest when
// digest is empty. Paths are absolute snapshot paths keyed like the meta.
func Baselines(dataDir, digest string) ([]BaselineMeta, []string, error) {
	pattern := filepath.Join(dataDir, "archives", "*", "*", "meta.json")
	if digest != "" {
		if len(digest) < 12 {
			return nil, nil, fmt.Errorf("digest prefix must be at least 12 hex chars")
		}
		pattern = filepath.Join(dataDir, "archives", digest[:12], "*", "meta.json")
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(matches)

	var metas []BaselineMeta
	var paths []string
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, nil, err
		}
		var meta BaselineMeta
		if err := json.Unmarshal(b, &meta); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", m, err)
		}
		metas = append(metas, meta)
		paths = append(paths, filepath.Join(filepath.Dir(m), meta.Snapshot))
	}
	return metas, paths, nil
}

func baselineDir(dataDir, digest, kind string) string {
	return filepath.Join(dataDir, "archives", digest[:12], kind)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
