package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDeriveSigningKey(t *testing.T) {
	got := hex.EncodeToString(deriveSigningKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "20120215", "us-east-1", "iam"))
	want := "f4780e2d9f65fa895f9c67b32ce1baf0b0d8a43505a000a1a9e090d414db404d"
	if got != want {
		t.Fatalf("signing key=%s want %s", got, want)
	}
}

func TestSign_FixedRequest(t *testing.T) {
	c, err := New(Config{
		Endpoint:        "storage.example.com",
		Bucket:          "noise",
		Region:          "us-east-1",
		AccessKeyID:     "AKID",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, "https://storage.example.com/noise/snapshots/a%20b.snap.zst", nil)
	if err != nil {
		t.Fatal(err)
	}
	emptyHash := sha256Hex(nil)
	c.signer.sign(req, emptyHash, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	want := "AWS4-HMAC-SHA256 Credential=AKID/20260301/us-east-1/s3/aws4_request, " +
		"SignedHeaders=host;x-amz-content-sha256;x-amz-date, " +
		"Signature=cb9cb50201ba49dbbc24b047a812bcf7691d97d5a6fed0bf4e194861d26d787e"
	if got := req.Header.Get("Authorization"); got != want {
		t.Fatalf("Authorization=%q\nwant %q", got, want)
	}
	if got := req.Header.Get("x-amz-date"); got != "20260301T120000Z" {
		t.Fatalf("x-amz-date=%q", got)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Endpoint: "example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
	c, err := New(Config{Endpoint: "example.com/", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.objectURL("snapshots/a b.snap.zst"); got != "https://example.com/b/snapshots/a%20b.snap.zst" {
		t.Fatalf("objectURL=%q", got)
	}
	if c.signer.region != "auto" {
		t.Fatalf("region=%q", c.signer.region)
	}
	if _, err := New(Config{Endpoint: "ftp://example.com", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"}); err == nil {
		t.Fatalf("expected error for non-http endpoint")
	}
}

func TestPutFile(t *testing.T) {
	payload := []byte("snapshot bytes")
	sum := sha256.Sum256(payload)

	var gotPath, gotHash, gotAuth, gotType string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotPath = r.URL.Path
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, err := New(Config{Endpoint: ts.URL, Bucket: "noise", AccessKeyID: "AKID", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	local := filepath.Join(t.TempDir(), "x.snap.zst")
	if err := os.WriteFile(local, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.PutFile(context.Background(), "/snapshots//x.snap.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if gotPath != "/noise/snapshots/x.snap.zst" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("payload hash=%q", gotHash)
	}
	if string(gotBody) != string(payload) {
		t.Fatalf("body=%q", gotBody)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKID/") || !strings.Contains(gotAuth, "/auto/s3/aws4_request") {
		t.Fatalf("Authorization=%q", gotAuth)
	}
	if gotType != "application/zstd" {
		t.Fatalf("Content-Type=%q", gotType)
	}
}

func TestPutFile_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("SignatureDoesNotMatch"))
	}))
	defer ts.Close()

	c, err := New(Config{Endpoint: ts.URL, Bucket: "noise", AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	local := filepath.Join(t.TempDir(), "a.json")
	if err := os.WriteFile(local, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = c.PutFile(context.Background(), "a.json", local)
	if err == nil || !strings.Contains(err.Error(), "status=403") || !strings.Contains(err.Error(), "SignatureDoesNotMatch") {
		t.Fatalf("err=%v", err)
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_UploadsWithPrefixAndRetry(t *testing.T) {
	dataDir := t.TempDir()
	local := filepath.Join(dataDir, "snapshots", "abc-density-1.snap.zst")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	up := &fakeUploader{fails: 1}
	m := NewMirror(up, dataDir, MirrorOptions{Prefix: "/seed-42/", Backoff: time.Millisecond})
	m.Enqueue(local)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere.zst"))
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "seed-42/snapshots/abc-density-1.snap.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.SkippedTotal != 1 || st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if st.LastSuccessUnix == 0 {
		t.Fatalf("last success not recorded")
	}
}

func TestMirror_ObjectKeyRejectsOutside(t *testing.T) {
	dataDir := t.TempDir()
	m := NewMirror(&fakeUploader{}, dataDir, MirrorOptions{})
	defer m.Close()

	outside := filepath.Join(t.TempDir(), "x.zst")
	if err := os.WriteFile(outside, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ObjectKey(outside); err == nil {
		t.Fatalf("expected error for path outside data dir")
	}
	if _, err := m.ObjectKey(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if st := m.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_EnqueueAfterClose(t *testing.T) {
	dataDir := t.TempDir()
	local := filepath.Join(dataDir, "a.snap.zst")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	up := &fakeUploader{}
	m := NewMirror(up, dataDir, MirrorOptions{})
	m.Close()
	m.Enqueue(local)
	m.Close()

	if len(up.keys) != 0 {
		t.Fatalf("keys=%v", up.keys)
	}
	if st := m.Stats(); st.DroppedTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_EnqueueRacingClose(t *testing.T) {
	dataDir := t.TempDir()
	local := filepath.Join(dataDir, "log", "requests.jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for round := 0; round < 20; round++ {
		m := NewMirror(&fakeUploader{}, dataDir, MirrorOptions{QueueCapacity: 2, EnqueueWait: time.Microsecond})
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					m.Enqueue(local)
				}
			}()
		}
		m.Close()
		wg.Wait()
	}
}

// blockingUploader holds every upload until release is closed.
type blockingUploader struct {
	fakeUploader
	release chan struct{}
}

func (b *blockingUploader) PutFile(ctx context.Context, key, p string) error {
	<-b.release
	return b.fakeUploader.PutFile(ctx, key, p)
}

func TestMirror_CoalescesPendingPath(t *testing.T) {
	dataDir := t.TempDir()
	first := filepath.Join(dataDir, "first.snap.zst")
	second := filepath.Join(dataDir, "second.snap.zst")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	up := &blockingUploader{release: make(chan struct{})}
	m := NewMirror(up, dataDir, MirrorOptions{Workers: 1})
	m.Enqueue(first)
	m.Enqueue(second)
	m.Enqueue(second)
	close(up.release)
	m.Close()

	st := m.Stats()
	if st.CoalescedTotal != 1 || st.UploadSuccessTotal != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if len(up.keys) != 2 {
		t.Fatalf("keys=%v", up.keys)
	}
}
