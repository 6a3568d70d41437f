package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxelnoise.ai/internal/field"
	"voxelnoise.ai/internal/protocol"
	"voxelnoise.ai/internal/tuning"
)

type probeOptions struct {
	Name     string
	Requests int
	Size     int
	Step     int
	Kind     string // empty picks a random advertised kind per request
	Seed     int64
	Verify   *field.Field
}

type probeStats struct {
	SessionID  string
	Slices     int
	Errors     int
	Cells      int
	Mismatches int
}

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "probe", "client name")
		n          = flag.Int("n", 20, "number of SLICE_REQ to send")
		size       = flag.Int("size", 16, "region edge length in blocks")
		step       = flag.Int("step", 1, "region step")
		kind       = flag.String("kind", "", "sample kind (empty: random advertised kind)")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "seed for picking request positions")
		tuningPath = flag.String("verify_tuning", "", "if set, re-sample every slice locally from this tuning and compare")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[probe] ", log.LstdFlags|log.Lmicroseconds)

	opts := probeOptions{Name: *name, Requests: *n, Size: *size, Step: *step, Kind: *kind, Seed: *seed}
	if strings.TrimSpace(*tuningPath) != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
		f, err := field.New(t)
		if err != nil {
			logger.Fatalf("field: %v", err)
		}
		opts.Verify = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := runProbe(ctx, *url, opts, logger)
	if err != nil {
		logger.Fatalf("probe: %v", err)
	}
	logger.Printf("done session=%s slices=%d errors=%d cells=%d mismatches=%d", st.SessionID, st.Slices, st.Errors, st.Cells, st.Mismatches)
	if st.Mismatches > 0 {
		os.Exit(1)
	}
}

func runProbe(ctx context.Context, url string, opts probeOptions, logger *log.Logger) (probeStats, error) {
	var st probeStats
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return st, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	hello := protocol.HelloMsg{
		Type:              protocol.TypeHello,
		ProtocolVersion:   protocol.Version,
		SupportedVersions: []string{protocol.Version},
		ClientName:        opts.Name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return st, fmt.Errorf("send HELLO: %w", err)
	}

	var welcome protocol.WelcomeMsg
	if err := readTyped(conn, protocol.TypeWelcome, &welcome); err != nil {
		return st, err
	}
	st.SessionID = welcome.SessionID
	logger.Printf("WELCOME session=%s seed=%d source=%s digest=%.12s kinds=%d",
		welcome.SessionID, welcome.Field.Seed, welcome.Field.RandomSource, welcome.Field.TuningDigest, len(welcome.Field.Kinds))
	if opts.Verify != nil && opts.Verify.Digest() != welcome.Field.TuningDigest {
		return st, fmt.Errorf("tuning digest mismatch: server=%s local=%s", welcome.Field.TuningDigest, opts.Verify.Digest())
	}
	if len(welcome.Field.Kinds) == 0 {
		return st, fmt.Errorf("server advertised no kinds")
	}

	r := rand.New(rand.NewSource(opts.Seed))
	for i := 0; i < opts.Requests; i++ {
		req := randomRequest(r, i, welcome.Field.Kinds, opts)
		if err := conn.WriteJSON(req); err != nil {
			return st, fmt.Errorf("send SLICE_REQ: %w", err)
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return st, fmt.Errorf("read: %w", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			return st, err
		}
		switch base.Type {
		case protocol.TypeSlice:
			var s protocol.SliceMsg
			if err := json.Unmarshal(msg, &s); err != nil {
				return st, err
			}
			st.Slices++
			st.Cells += len(s.Values)
			if opts.Verify != nil {
				st.Mismatches += verifySlice(opts.Verify, s)
			}
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				return st, err
			}
			st.Errors++
			logger.Printf("ERROR request=%s code=%s message=%s", e.RequestID, e.Code, e.Message)
		default:
			return st, fmt.Errorf("unexpected message type %q", base.Type)
		}
	}
	return st, nil
}

func randomRequest(r *rand.Rand, i int, kinds []protocol.KindInfo, opts probeOptions) protocol.SliceReqMsg {
	kind := opts.Kind
	if kind == "" {
		kind = kinds[r.Intn(len(kinds))].Name
	}
	size := opts.Size
	if size < 1 {
		size = 1
	}
	x := r.Intn(4096) - 2048
	y := r.Intn(256) - 64
	z := r.Intn(4096) - 2048
	return protocol.SliceReqMsg{
		Type:            protocol.TypeSliceReq,
		ProtocolVersion: protocol.Version,
		RequestID:       "R" + strconv.Itoa(i+1),
		Kind:            kind,
		Min:             [3]int{x, y, z},
		Max:             [3]int{x + size - 1, y + size - 1, z + size - 1},
		Step:            opts.Step,
	}
}

// verifySlice counts cells whose value differs bit-for-bit from a local
// sample. Values are in x-major, then z, then y order.
func verifySlice(f *field.Field, s protocol.SliceMsg) int {
	fn, err := f.Sampler(s.Kind)
	if err != nil {
		return len(s.Values)
	}
	bad := 0
	i := 0
	for ix := 0; ix < s.Dims[0]; ix++ {
		for iz := 0; iz < s.Dims[2]; iz++ {
			for iy := 0; iy < s.Dims[1]; iy++ {
				x := s.Min[0] + ix*s.Step
				y := s.Min[1] + iy*s.Step
				z := s.Min[2] + iz*s.Step
				if i >= len(s.Values) || fn(x, y, z) != s.Values[i] {
					bad++
				}
				i++
			}
		}
	}
	return bad
}

func readTyped(conn *websocket.Conn, want string, v any) error {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read %s: %w", want, err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return err
	}
	if base.Type == protocol.TypeError {
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)
	}
	if base.Type != want {
		return fmt.Errorf("expected %s, got %s", want, base.Type)
	}
	return json.Unmarshal(msg, v)
}
