package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelnoise.ai/internal/sampler"
)

const Version = 1

// Header is written as a JSON line ahead of the gob body so tools can
// identify a snapshot without decoding the values.
type Header struct {
	Version int    `json:"version"`
	Digest  string `json:"tuning_digest"`
	Kind    string `json:"kind"`
	Cells   int    `json:"cells"`
}

// DensitySnapshotV1 is one sampled region of one field kind.
type DensitySnapshotV1 struct {
	Header Header `json:"header"`

	Seed         int64          `json:"seed"`
	RandomSource string         `json:"random_source"`
	TuningYAML   []byte         `json:"tuning_yaml,omitempty"`
	Region       sampler.Region `json:"region"`
	NX           int            `json:"nx"`
	NY           int            `json:"ny"`
	NZ           int            `json:"nz"`
	Values       []float64      `json:"values"`
	Min          float64        `json:"min"`
	Max          float64        `json:"max"`
}

// FromGrid wraps a sampled grid. Header.Cells is filled from the grid.
func FromGrid(digest, kind string, seed int64, source string, g *sampler.Grid) DensitySnapshotV1 {
	lo, hi := g.Range()
	return DensitySnapshotV1{
		Header:       Header{Version: Version, Digest: digest, Kind: kind, Cells: len(g.Values)},
		Seed:         seed,
		RandomSource: source,
		Region:       g.Region,
		NX:           g.NX,
		NY:           g.NY,
		NZ:           g.NZ,
		Values:       g.Values,
		Min:          lo,
		Max:          hi,
	}
}

// Grid returns the snapshot values as a sampler grid.
func (s DensitySnapshotV1) Grid() *sampler.Grid {
	return &sampler.Grid{Region: s.Region, NX: s.NX, NY: s.NY, NZ: s.NZ, Values: s.Values}
}

func WriteSnapshot(path string, snap DensitySnapshotV1) error {
	if snap.NX*snap.NY*snap.NZ != len(snap.Values) {
		return fmt.Errorf("snapshot: %dx%dx%d dims do not match %d values", snap.NX, snap.NY, snap.NZ, len(snap.Values))
	}
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	snap.Header.Cells = len(snap.Values)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

func ReadSnapshot(path string) (DensitySnapshotV1, error) {
	var snap DensitySnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header; the line only serves ReadHeader.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
