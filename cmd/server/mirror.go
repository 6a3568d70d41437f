package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"voxelnoise.ai/internal/persistence/objstore"
)

// buildMirror returns nil when VN_MIRROR is off. Mirroring never affects
// sampled values; it only copies finished files to a bucket.
func buildMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	if !envBool("VN_MIRROR", false) {
		return nil, nil
	}
	cfg := objstore.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("VN_MIRROR_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("VN_MIRROR_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("VN_MIRROR_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("VN_MIRROR_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("VN_MIRROR_SECRET_ACCESS_KEY")),
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("VN_MIRROR=true but VN_MIRROR_ENDPOINT/VN_MIRROR_BUCKET/VN_MIRROR_ACCESS_KEY_ID/VN_MIRROR_SECRET_ACCESS_KEY are not fully set")
	}
	client, err := objstore.New(cfg)
	if err != nil {
		return nil, err
	}
	return objstore.NewMirror(client, dataDir, objstore.MirrorOptions{
		Prefix:        os.Getenv("VN_MIRROR_PREFIX"),
		Workers:       envInt("VN_MIRROR_WORKERS", 2),
		QueueCapacity: envInt("VN_MIRROR_QUEUE", 256),
		Logger:        logger,
	}), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
