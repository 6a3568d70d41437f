package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	vlog "voxelnoise.ai/internal/persistence/log"
	"voxelnoise.ai/internal/persistence/snapshot"
	"voxelnoise.ai/internal/synth"
	"voxelnoise.ai/internal/tuning"
)

// SQLiteIndex is the regression index: recorded golden values per tuning
// digest, written snapshots, and a secondary index of preview requests.
// Goldens are written synchronously; snapshot and request rows go through
// a buffered writer goroutine and may be dropped under load.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends on ch against its close.
	mu     sync.RWMutex
	closed bool
}

type reqKind int

const (
	reqSnapshot reqKind = iota + 1
	reqRequest
)

type req struct {
	kind reqKind

	snapshot SnapshotRow
	request  vlog.RequestEntry
}

// Golden is one recorded sample.
type Golden struct {
	Kind  string         `json:"kind"`
	Pos   synth.BlockPos `json:"pos"`
	Value float64        `json:"value"`
}

type SnapshotRow struct {
	Path       string  `json:"path"`
	Digest     string  `json:"tuning_digest"`
	Kind       string  `json:"kind"`
	Seed       int64   `json:"seed"`
	Cells      int     `json:"cells"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	RecordedAt string  `json:"recorded_at"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tunings (
			digest TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			random_source TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS goldens (
			digest TEXT NOT NULL REFERENCES tunings(digest) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			value_bits INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (digest, kind, x, y, z)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			kind TEXT NOT NULL,
			seed INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			min_value REAL NOT NULL,
			max_value REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_digest ON snapshots(digest);`,
		`CREATE TABLE IF NOT EXISTS requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			session TEXT NOT NULL,
			request_id TEXT,
			kind TEXT NOT NULL,
			cells INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			code TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// UpsertTuning stores the tuning under its digest so goldens can reference it.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO tunings(digest,seed,random_source,json,updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(digest) DO UPDATE SET json=excluded.json, updated_at=excluded.updated_at`,
		t.Digest(), t.Seed, t.RandomSource, string(b), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Tuning returns the stored tuning for digest.
func (s *SQLiteIndex) Tuning(digest string) (tuning.Tuning, bool, error) {
	var t tuning.Tuning
	var raw string
	err := s.db.QueryRow(`SELECT json FROM tunings WHERE digest=?`, digest).Scan(&raw)
	if err == sql.ErrNoRows {
		return t, false, nil
	}
	if err != nil {
		return t, false, err
	}
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return t, false, fmt.Errorf("decode tuning %s: %w", digest, err)
	}
	return t, true, nil
}

// RecordGoldens stores values as IEEE-754 bit patterns so reads are exact.
// The tuning row for digest must exist.
func (s *SQLiteIndex) RecordGoldens(ctx context.Context, digest string, goldens []Golden) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO goldens(digest,kind,x,y,z,value_bits,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, g := range goldens {
		bits := int64(math.Float64bits(g.Value))
		if _, err := stmt.ExecContext(ctx, digest, g.Kind, g.Pos.X, g.Pos.Y, g.Pos.Z, bits, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record golden %s %v: %w", g.Kind, g.Pos, err)
		}
	}
	return tx.Commit()
}

// Goldens returns the goldens for digest ordered by kind and position.
func (s *SQLiteIndex) Goldens(ctx context.Context, digest string) ([]Golden, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind,x,y,z,value_bits FROM goldens WHERE digest=? ORDER BY kind,x,y,z`, digest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Golden
	for rows.Next() {
		var g Golden
		var bits int64
		if err := rows.Scan(&g.Kind, &g.Pos.X, &g.Pos.Y, &g.Pos.Z, &bits); err != nil {
			return nil, err
		}
		g.Value = math.Float64frombits(uint64(bits))
		out = append(out, g)
	}
	return out, rows.Err()
}

// Digests lists every tuning digest with its golden count.
func (s *SQLiteIndex) Digests(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT t.digest, COUNT(g.digest) FROM tunings t LEFT JOIN goldens g ON g.digest=t.digest GROUP BY t.digest`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		out[d] = n
	}
	return out, rows.Err()
}

// Sampler is the part of a field Verify needs.
type Sampler interface {
	Digest() string
	Sample(kind string, x, y, z int) (float64, error)
}

type Mismatch struct {
	Golden Golden  `json:"golden"`
	Got    float64 `json:"got"`
	Err    string  `json:"error,omitempty"`
}

// Verify recomputes every golden recorded for f's digest. tol 0 demands
// bit-identical values.
func (s *SQLiteIndex) Verify(ctx context.Context, f Sampler, tol float64) (checked int, mismatches []Mismatch, err error) {
	goldens, err := s.Goldens(ctx, f.Digest())
	if err != nil {
		return 0, nil, err
	}
	for _, g := range goldens {
		if err := ctx.Err(); err != nil {
			return checked, mismatches, err
		}
		checked++
		v, serr := f.Sample(g.Kind, g.Pos.X, g.Pos.Y, g.Pos.Z)
		switch {
		case serr != nil:
			mismatches = append(mismatches, Mismatch{Golden: g, Err: serr.Error()})
		case tol == 0 && math.Float64bits(v) != math.Float64bits(g.Value):
			mismatches = append(mismatches, Mismatch{Golden: g, Got: v})
		case tol > 0 && !(math.Abs(v-g.Value) <= tol):
			mismatches = append(mismatches, Mismatch{Golden: g, Got: v})
		}
	}
	return checked, mismatches, nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.DensitySnapshotV1) {
	if s == nil {
		return
	}
	r := SnapshotRow{
		Path:       path,
		Digest:     snap.Header.Digest,
		Kind:       snap.Header.Kind,
		Seed:       snap.Seed,
		Cells:      len(snap.Values),
		Min:        snap.Min,
		Max:        snap.Max,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	// Dropped if the indexer falls behind; the snapshot file is the source of truth.
	s.enqueue(req{kind: reqSnapshot, snapshot: r})
}

func (s *SQLiteIndex) Snapshots(ctx context.Context, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path,digest,kind,seed,cells,min_value,max_value,recorded_at FROM snapshots ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.Path, &r.Digest, &r.Kind, &r.Seed, &r.Cells, &r.Min, &r.Max, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) WriteRequest(e vlog.RequestEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqRequest, request: e})
	return nil
}

// enqueue never blocks and is a no-op after Close.
func (s *SQLiteIndex) enqueue(r req) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,digest,kind,seed,cells,min_value,max_value,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertRequest, _ := s.db.Prepare(`INSERT INTO requests(time,session,request_id,kind,cells,duration_ms,code) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
		if insertRequest != nil {
			_ = insertRequest.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 512
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.Path, sn.Digest, sn.Kind, sn.Seed, sn.Cells, sn.Min, sn.Max, sn.RecordedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqRequest:
			e := r.request
			if insertRequest != nil {
				if _, err := tx.Stmt(insertRequest).Exec(
					e.Time.UTC().Format(time.RFC3339Nano),
					e.Session,
					e.RequestID,
					e.Kind,
					e.Cells,
					e.DurationMs,
					e.Code,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		// Commit whenever the queue drains: golden writes share the one connection.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
