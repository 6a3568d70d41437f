package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voxelnoise.ai/internal/persistence/snapshot"
)

func writeDummy(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, "snapshots", name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestPinBaseline_CopiesAndReplaces(t *testing.T) {
	dataDir := t.TempDir()
	digest := strings.Repeat("ab", 32)
	snap := snapshot.DensitySnapshotV1{
		Header:       snapshot.Header{Version: snapshot.Version, Digest: digest, Kind: "density", Cells: 8},
		Seed:         42,
		RandomSource: "xoroshiro",
	}

	first := writeDummy(t, dataDir, "one.snap.zst", "first")
	if _, err := PinBaseline(dataDir, first, snap); err != nil {
		t.Fatalf("pin first: %v", err)
	}
	second := writeDummy(t, dataDir, "two.snap.zst", "second")
	pinned, err := PinBaseline(dataDir, second, snap)
	if err != nil {
		t.Fatalf("pin second: %v", err)
	}
	got, err := os.ReadFile(pinned)
	if err != nil || string(got) != "second" {
		t.Fatalf("pinned content=%q err=%v", got, err)
	}

	metas, paths, err := Baselines(dataDir, digest)
	if err != nil {
		t.Fatalf("Baselines: %v", err)
	}
	if len(metas) != 1 || metas[0].Snapshot != "two.snap.zst" || metas[0].Seed != 42 || metas[0].Cells != 8 {
		t.Fatalf("metas=%+v", metas)
	}
	if paths[0] != pinned {
		t.Fatalf("path=%q want %q", paths[0], pinned)
	}
}

func TestBaselines_AllDigests(t *testing.T) {
	dataDir := t.TempDir()
	src := writeDummy(t, dataDir, "x.snap.zst", "x")
	for _, d := range []string{strings.Repeat("1", 64), strings.Repeat("2", 64)} {
		snap := snapshot.DensitySnapshotV1{Header: snapshot.Header{Digest: d, Kind: "erosion"}}
		if _, err := PinBaseline(dataDir, src, snap); err != nil {
			t.Fatalf("pin: %v", err)
		}
	}
	metas, _, err := Baselines(dataDir, "")
	if err != nil {
		t.Fatalf("Baselines: %v", err)
	}
	if len(metas) != 2 || metas[0].Digest[0] != '1' || metas[1].Digest[0] != '2' {
		t.Fatalf("metas=%+v", metas)
	}
	if _, _, err := Baselines(dataDir, "abc"); err == nil {
		t.Fatalf("expected error for short digest")
	}
}

func TestPinBaseline_RequiresHeader(t *testing.T) {
	if _, err := PinBaseline(t.TempDir(), "x", snapshot.DensitySnapshotV1{}); err == nil {
		t.Fatalf("expected error")
	}
}
