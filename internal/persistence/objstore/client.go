// Package objstore mirrors finished data files (snapshots, closed request log
// segments) to an S3-compatible bucket.
package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

type Config struct {
	Endpoint        string
	Bucket          string
	Region          string // "auto" when empty
	AccessKeyID     string
	SecretAccessKey string
}

// Client uploads files with signed path-style PUTs.
type Client struct {
	base   *url.URL // endpoint with the bucket as first path segment
	signer signer
	http   *http.Client
	now    func() time.Time
}

func New(cfg Config) (*Client, error) {
	trim := strings.TrimSpace
	endpoint, bucket := trim(cfg.Endpoint), trim(cfg.Bucket)
	if endpoint == "" || bucket == "" || trim(cfg.AccessKeyID) == "" || trim(cfg.SecretAccessKey) == "" {
		return nil, fmt.Errorf("endpoint/bucket/access key/secret key are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}
	u.Path = "/" + bucket
	u.RawPath = ""

	region := trim(cfg.Region)
	if region == "" {
		region = "auto"
	}
	return &Client{
		base: u,
		signer: signer{
			accessKeyID: trim(cfg.AccessKeyID),
			secret:      trim(cfg.SecretAccessKey),
			region:      region,
		},
		http: &http.Client{Timeout: 2 * time.Minute},
		now:  time.Now,
	}, nil
}

func (c *Client) objectURL(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.base.String() + "/" + strings.Join(segs, "/")
}

// PutFile uploads localPath to key. The payload is hashed in a first pass
// so the body can be streamed from disk.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("empty object key")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", localPath)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", contentType(key))
	c.signer.sign(req, hex.EncodeToString(h.Sum(nil)), c.now().UTC())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("objstore put failed status=%d key=%s body=%s", resp.StatusCode, key, strings.TrimSpace(string(body)))
}

// contentType covers the file kinds the server writes: zstd snapshots and
// log segments, plus baseline metadata.
func contentType(key string) string {
	switch path.Ext(key) {
	case ".zst":
		return "application/zstd"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

func cleanKey(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "." {
		return ""
	}
	return clean
}
