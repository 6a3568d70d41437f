package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	digest := fs.String("digest", "", "tuning digest filter (prefix match)")
	session := fs.String("session", "", "session filter (requests)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "noise.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if err := runQuery(db, q, strings.TrimSpace(*digest), strings.TrimSpace(*session), *limit, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, q, digest, session string, limit int, emit func(any)) error {
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT path,digest,kind,seed,cells,min_value,max_value,recorded_at FROM snapshots WHERE digest LIKE ? ORDER BY recorded_at DESC LIMIT ?`, digest+"%", limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Path       string  `json:"path"`
				Digest     string  `json:"tuning_digest"`
				Kind       string  `json:"kind"`
				Seed       int64   `json:"seed"`
				Cells      int     `json:"cells"`
				Min        float64 `json:"min"`
				Max        float64 `json:"max"`
				RecordedAt string  `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Path, &r.Digest, &r.Kind, &r.Seed, &r.Cells, &r.Min, &r.Max, &r.RecordedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "requests":
		rows, err := db.Query(`SELECT id,time,session,COALESCE(request_id,''),kind,cells,duration_ms,COALESCE(code,'') FROM requests WHERE (?='' OR session=?) ORDER BY id DESC LIMIT ?`, session, session, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID         int64  `json:"id"`
				Time       string `json:"time"`
				Session    string `json:"session"`
				RequestID  string `json:"request_id,omitempty"`
				Kind       string `json:"kind"`
				Cells      int    `json:"cells"`
				DurationMs int64  `json:"duration_ms"`
				Code       string `json:"code,omitempty"`
			}
			if err := rows.Scan(&r.ID, &r.Time, &r.Session, &r.RequestID, &r.Kind, &r.Cells, &r.DurationMs, &r.Code); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "tunings":
		rows, err := db.Query(`SELECT digest,seed,random_source,json,updated_at FROM tunings WHERE digest LIKE ? ORDER BY updated_at DESC LIMIT ?`, digest+"%", limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Digest       string          `json:"tuning_digest"`
				Seed         int64           `json:"seed"`
				RandomSource string          `json:"random_source"`
				Tuning       json.RawMessage `json:"tuning"`
				UpdatedAt    string          `json:"updated_at"`
			}
			var raw string
			if err := rows.Scan(&r.Digest, &r.Seed, &r.RandomSource, &raw, &r.UpdatedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Tuning = json.RawMessage(raw)
			emit(r)
		}
		return rows.Err()

	case "goldens":
		rows, err := db.Query(`SELECT digest,kind,x,y,z,value_bits FROM goldens WHERE digest LIKE ? ORDER BY digest,kind,x,y,z LIMIT ?`, digest+"%", limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Digest string  `json:"tuning_digest"`
				Kind   string  `json:"kind"`
				X      int     `json:"x"`
				Y      int     `json:"y"`
				Z      int     `json:"z"`
				Value  float64 `json:"value"`
			}
			var bits int64
			if err := rows.Scan(&r.Digest, &r.Kind, &r.X, &r.Y, &r.Z, &bits); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Value = math.Float64frombits(uint64(bits))
			emit(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (snapshots|requests|tunings|goldens)", q)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
