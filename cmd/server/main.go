package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voxelnoise.ai/internal/field"
	persistlog "voxelnoise.ai/internal/persistence/log"
	"voxelnoise.ai/internal/transport/ws"
	"voxelnoise.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/noise.yaml", "path to noise tuning yaml (empty for built-in defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.String("seed", "", "override the tuning seed")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (request log + snapshot metadata + goldens)")
		disableLog = flag.Bool("disable_log", false, "disable the compressed request log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(strings.TrimSpace(*tuningPath))
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if s := strings.TrimSpace(*seed); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			logger.Fatalf("bad -seed %q: %v", s, err)
		}
		tune.Seed = v
	}

	start := time.Now()
	f, err := field.New(tune)
	if err != nil {
		logger.Fatalf("field: %v", err)
	}
	logger.Printf("field ready seed=%d source=%s digest=%s kinds=%v (%s)",
		tune.Seed, tune.RandomSource, f.Digest()[:12], f.Kinds(), time.Since(start).Round(time.Millisecond))

	// Optional: read-model index backend (does not affect sampled values).
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(f.Tuning()); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	if mirror != nil {
		// Runs after reqLog.Close so the last segment is queued first.
		defer mirror.Close()
	}

	var sinks []ws.RequestSink
	if !*disableLog {
		reqLog := persistlog.NewRequestLogger(*dataDir)
		if mirror != nil {
			reqLog.OnSegmentClosed(mirror.Enqueue)
		}
		defer reqLog.Close()
		sinks = append(sinks, reqLog)
	}
	if idx != nil {
		sinks = append(sinks, idx)
	}

	ctx, cancel := signalContext()
	defer cancel()

	wsSrv := ws.NewServer(f, logger, sinks...)
	srv := &http.Server{
		Addr: *addr,
		Handler: newMux(serverDeps{
			Field:           f,
			WS:              wsSrv,
			Index:           idx,
			Mirror:          mirror,
			DataDir:         *dataDir,
			Logger:          logger,
			EnableAdminHTTP: envBool("VN_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
			EnablePprofHTTP: envBool("VN_ENABLE_PPROF_HTTP", false),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		wsSrv.Close()
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// Sessions must be gone before the deferred sink closes run.
	<-shutdownDone
	logger.Printf("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
