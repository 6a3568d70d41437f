package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"voxelnoise.ai/internal/field"
	"voxelnoise.ai/internal/persistence/indexdb"
	"voxelnoise.ai/internal/persistence/objstore"
	"voxelnoise.ai/internal/persistence/snapshot"
	"voxelnoise.ai/internal/sampler"
	"voxelnoise.ai/internal/synth"
	"voxelnoise.ai/internal/transport/ws"
)

type serverDeps struct {
	Field   *field.Field
	WS      *ws.Server
	Index   *indexdb.SQLiteIndex // nil when indexing is disabled
	Mirror  *objstore.Mirror     // nil when mirroring is disabled
	DataDir string
	Logger  *log.Logger

	EnableAdminHTTP bool
	EnablePprofHTTP bool
}

type snapshotRequest struct {
	Kind string `json:"kind"`
	Min  [3]int `json:"min"`
	Max  [3]int `json:"max"`
	Step int    `json:"step"`
}

func newMux(d serverDeps) *http.ServeMux {
	logger := d.Logger
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := d.WS.Metrics()
		seed := strconv.FormatInt(d.Field.Seed(), 10)

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP voxelnoise_sessions Current number of preview sessions.\n")
		fmt.Fprintf(rw, "# TYPE voxelnoise_sessions gauge\n")
		fmt.Fprintf(rw, "voxelnoise_sessions{seed=%q} %d\n", seed, m.Sessions)

		fmt.Fprintf(rw, "# HELP voxelnoise_slice_requests_total Answered SLICE_REQ messages.\n")
		fmt.Fprintf(rw, "# TYPE voxelnoise_slice_requests_total counter\n")
		fmt.Fprintf(rw, "voxelnoise_slice_requests_total{seed=%q,result=%q} %d\n", seed, "ok", m.Requests-m.Failures)
		fmt.Fprintf(rw, "voxelnoise_slice_requests_total{seed=%q,result=%q} %d\n", seed, "error", m.Failures)

		fmt.Fprintf(rw, "# HELP voxelnoise_cells_sampled_total Cells sampled for preview clients.\n")
		fmt.Fprintf(rw, "# TYPE voxelnoise_cells_sampled_total counter\n")
		fmt.Fprintf(rw, "voxelnoise_cells_sampled_total{seed=%q} %d\n", seed, m.Cells)

		if d.Mirror != nil {
			ms := d.Mirror.Stats()
			fmt.Fprintf(rw, "# HELP voxelnoise_mirror_queue_depth Files waiting for upload.\n")
			fmt.Fprintf(rw, "# TYPE voxelnoise_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "voxelnoise_mirror_queue_depth{seed=%q} %d\n", seed, ms.QueueDepth)
			fmt.Fprintf(rw, "# HELP voxelnoise_mirror_uploads_total Finished upload attempts.\n")
			fmt.Fprintf(rw, "# TYPE voxelnoise_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "voxelnoise_mirror_uploads_total{seed=%q,result=%q} %d\n", seed, "ok", ms.UploadSuccessTotal)
			fmt.Fprintf(rw, "voxelnoise_mirror_uploads_total{seed=%q,result=%q} %d\n", seed, "error", ms.UploadFailTotal)
			fmt.Fprintf(rw, "# HELP voxelnoise_mirror_dropped_total Files dropped on a saturated queue or after close.\n")
			fmt.Fprintf(rw, "# TYPE voxelnoise_mirror_dropped_total counter\n")
			fmt.Fprintf(rw, "voxelnoise_mirror_dropped_total{seed=%q} %d\n", seed, ms.DroppedTotal)
			fmt.Fprintf(rw, "# HELP voxelnoise_mirror_skipped_total Files ignored because they lie outside the data dir.\n")
			fmt.Fprintf(rw, "# TYPE voxelnoise_mirror_skipped_total counter\n")
			fmt.Fprintf(rw, "voxelnoise_mirror_skipped_total{seed=%q} %d\n", seed, ms.SkippedTotal)
			fmt.Fprintf(rw, "# HELP voxelnoise_mirror_coalesced_total Files already pending when queued again.\n")
			fmt.Fprintf(rw, "# TYPE voxelnoise_mirror_coalesced_total counter\n")
			fmt.Fprintf(rw, "voxelnoise_mirror_coalesced_total{seed=%q} %d\n", seed, ms.CoalescedTotal)
		}
	})

	if d.EnableAdminHTTP {
		// Local-only admin endpoints (do not affect sampled values).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Digest  string     `json:"tuning_digest"`
				Kinds   []string   `json:"kinds"`
				Metrics ws.Metrics `json:"metrics"`
			}{
				Digest:  d.Field.Digest(),
				Kinds:   d.Field.Kinds(),
				Metrics: d.WS.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			var req snapshotRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeAdminError(rw, http.StatusBadRequest, err)
				return
			}
			if req.Step == 0 {
				req.Step = 1
			}
			region := sampler.Region{
				Min:  synth.BlockPos{X: req.Min[0], Y: req.Min[1], Z: req.Min[2]},
				Max:  synth.BlockPos{X: req.Max[0], Y: req.Max[1], Z: req.Max[2]},
				Step: req.Step,
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 30*time.Second)
			defer cancel2()
			t := d.Field.Tuning()
			snap, err := snapshot.Capture(ctx2, d.Field, req.Kind, region, sampler.Options{
				Workers:  t.Sampler.Workers,
				MaxCells: t.Sampler.MaxRegionCells,
				Logger:   logger,
			})
			if err != nil {
				writeAdminError(rw, http.StatusBadRequest, err)
				return
			}
			path := snapshot.PathFor(d.DataDir, snap, time.Now())
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				writeAdminError(rw, http.StatusInternalServerError, err)
				return
			}
			if d.Index != nil {
				d.Index.RecordSnapshot(path, snap)
			}
			d.Mirror.Enqueue(path)
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": path, "cells": snap.Header.Cells, "min": snap.Min, "max": snap.Max})
		})
		mux.HandleFunc("/admin/v1/verify", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if d.Index == nil {
				writeAdminError(rw, http.StatusServiceUnavailable, fmt.Errorf("index disabled"))
				return
			}
			tol := 0.0
			if v := strings.TrimSpace(r.URL.Query().Get("tol")); v != "" {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil || f < 0 {
					writeAdminError(rw, http.StatusBadRequest, fmt.Errorf("bad tol %q", v))
					return
				}
				tol = f
			}
			checked, mismatches, err := d.Index.Verify(r.Context(), d.Field, tol)
			if err != nil {
				writeAdminError(rw, http.StatusInternalServerError, err)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": len(mismatches) == 0, "checked": checked, "mismatches": mismatches})
		})
	} else {
		logger.Printf("admin endpoints disabled (VN_ENABLE_ADMIN_HTTP=false)")
	}
	if d.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VN_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/bootstrap", d.WS.BootstrapHandler())
	mux.HandleFunc("/v1/ws", d.WS.Handler())
	return mux
}

func writeAdminError(rw http.ResponseWriter, status int, err error) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
