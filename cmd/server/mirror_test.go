package main

import (
	"io"
	"log"
	"testing"
)

func TestBuildMirror(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	t.Setenv("VN_MIRROR", "")
	m, err := buildMirror(t.TempDir(), logger)
	if err != nil || m != nil {
		t.Fatalf("disabled: mirror=%v err=%v", m, err)
	}

	t.Setenv("VN_MIRROR", "true")
	t.Setenv("VN_MIRROR_ENDPOINT", "storage.example.com")
	t.Setenv("VN_MIRROR_BUCKET", "noise")
	t.Setenv("VN_MIRROR_ACCESS_KEY_ID", "")
	t.Setenv("VN_MIRROR_SECRET_ACCESS_KEY", "")
	if _, err := buildMirror(t.TempDir(), logger); err == nil {
		t.Fatalf("expected error with missing credentials")
	}

	t.Setenv("VN_MIRROR_ACCESS_KEY_ID", "k")
	t.Setenv("VN_MIRROR_SECRET_ACCESS_KEY", "s")
	t.Setenv("VN_MIRROR_QUEUE", "7")
	m, err = buildMirror(t.TempDir(), logger)
	if err != nil || m == nil {
		t.Fatalf("enabled: mirror=%v err=%v", m, err)
	}
	defer m.Close()
	if st := m.Stats(); st.QueueCapacity != 7 {
		t.Fatalf("queue capacity=%d want 7", st.QueueCapacity)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("VN_TEST_INT", "12")
	if got := envInt("VN_TEST_INT", 3); got != 12 {
		t.Fatalf("envInt=%d", got)
	}
	t.Setenv("VN_TEST_INT", "-1")
	if got := envInt("VN_TEST_INT", 3); got != 3 {
		t.Fatalf("envInt negative=%d", got)
	}
}
