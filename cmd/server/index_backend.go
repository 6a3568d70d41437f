package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelnoise.ai/internal/persistence/indexdb"
)

func openRuntimeIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VN_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "noise.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported VN_INDEX_BACKEND: %s", backend)
	}
}
