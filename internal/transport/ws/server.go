package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelnoise.ai/internal/field"
	vlog "voxelnoise.ai/internal/persistence/log"
	"voxelnoise.ai/internal/protocol"
	"voxelnoise.ai/internal/sampler"
	"voxelnoise.ai/internal/synth"
)

// RequestSink receives one entry per answered SLICE_REQ.
type RequestSink interface {
	WriteRequest(e vlog.RequestEntry) error
}

type Server struct {
	field   *field.Field
	log     *log.Logger
	sinks   []RequestSink
	workers int

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	// base is cancelled by Close. sessWG counts live handlers.
	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	closed bool
	sessWG sync.WaitGroup

	sessions atomic.Int64
	requests atomic.Uint64
	failures atomic.Uint64
	cells    atomic.Uint64
}

// Metrics are process-lifetime counters for /metrics.
type Metrics struct {
	Sessions int64  `json:"sessions"`
	Requests uint64 `json:"requests"`
	Failures uint64 `json:"failures"`
	Cells    uint64 `json:"cells"`
}

func (s *Server) Metrics() Metrics {
	return Metrics{
		Sessions: s.sessions.Load(),
		Requests: s.requests.Load(),
		Failures: s.failures.Load(),
		Cells:    s.cells.Load(),
	}
}

func NewServer(f *field.Field, logger *log.Logger, sinks ...RequestSink) *Server {
	base, stop := context.WithCancel(context.Background())
	return &Server{
		base:    base,
		stop:    stop,
		field:   f,
		log:     logger,
		sinks:   sinks,
		workers: f.Tuning().Sampler.Workers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// FieldInfo describes the served field the way WELCOME and /v1/bootstrap
// report it.
func (s *Server) FieldInfo() protocol.FieldInfo {
	t := s.field.Tuning()
	info := protocol.FieldInfo{
		Seed:           t.Seed,
		RandomSource:   t.RandomSource,
		TuningDigest:   s.field.Digest(),
		MaxRegionCells: t.Sampler.MaxRegionCells,
	}
	for _, k := range s.field.Kinds() {
		b, _ := s.field.Bounds(k)
		info.Kinds = append(info.Kinds, protocol.KindInfo{Name: k, Min: b.Min, Max: b.Max})
	}
	return info
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.FieldInfo())
	}
}

// Close ends every live session with a going-away close frame and waits
// for their handlers to return. Connections arriving afterwards get 503.
// Hijacked websocket connections are not covered by http.Server.Shutdown,
// so call Close before closing the request sinks.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
	s.sessWG.Wait()
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessWG.Add(1)
	return true
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.track() {
			http.Error(rw, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer s.sessWG.Done()

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		// Unblocks the reader on Close.
		stopAfter := context.AfterFunc(s.base, func() {
			cancel()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
			_ = conn.Close()
		})
		defer stopAfter()

		session, client := s.handshake(conn)
		if session == "" {
			return
		}
		s.log.Printf("session %s (%s) connected from %s", session, client, r.RemoteAddr)
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		out := make(chan []byte, 8)

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				s.log.Printf("session %s: marshal reply: %v", session, err)
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}

		// Reader loop. Requests are answered in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				send(protocol.NewError("", protocol.ErrProtoBadRequest, "malformed json"))
				continue
			}
			if base.Type != protocol.TypeSliceReq {
				send(protocol.NewError("", protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type)))
				continue
			}
			var req protocol.SliceReqMsg
			if err := json.Unmarshal(msg, &req); err != nil {
				send(protocol.NewError("", protocol.ErrProtoBadRequest, "bad SLICE_REQ"))
				continue
			}
			if req.ProtocolVersion != protocol.Version {
				send(protocol.NewError(req.RequestID, protocol.ErrProtoVersion, "bad protocol_version"))
				continue
			}
			reply, ok := s.serveSlice(ctx, session, req)
			if !ok {
				break
			}
			send(reply)
		}
		<-writerDone
		s.log.Printf("session %s closed", session)
	}
}

// serveSlice samples one request. ok is false when ctx ended mid-sample and
// there is nobody left to answer.
func (s *Server) serveSlice(ctx context.Context, session string, req protocol.SliceReqMsg) (reply any, ok bool) {
	start := time.Now()
	region := sampler.Region{
		Min:  synth.BlockPos{X: req.Min[0], Y: req.Min[1], Z: req.Min[2]},
		Max:  synth.BlockPos{X: req.Max[0], Y: req.Max[1], Z: req.Max[2]},
		Step: req.Step,
	}
	if region.Step == 0 {
		region.Step = 1
	}
	entry := vlog.RequestEntry{
		Time:      start.UTC(),
		Session:   session,
		RequestID: req.RequestID,
		Kind:      req.Kind,
		Region:    region,
	}
	fail := func(code, message string) (any, bool) {
		entry.Code = code
		entry.DurationMs = time.Since(start).Milliseconds()
		s.record(entry)
		return protocol.NewError(req.RequestID, code, message), true
	}

	if req.RequestID == "" {
		return fail(protocol.ErrProtoBadRequest, "missing request_id")
	}
	fn, err := s.field.Sampler(req.Kind)
	if err != nil {
		return fail(protocol.ErrUnknownKind, err.Error())
	}
	maxCells := s.field.Tuning().Sampler.MaxRegionCells
	if err := region.Validate(maxCells); err != nil {
		if errors.Is(err, sampler.ErrRegionTooLarge) {
			return fail(protocol.ErrRegionTooLarge, err.Error())
		}
		return fail(protocol.ErrBadRegion, err.Error())
	}

	g, err := sampler.Sample(ctx, fn, region, sampler.Options{
		Workers:  s.workers,
		MaxCells: maxCells,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		s.log.Printf("session %s: sample %s: %v", session, req.RequestID, err)
		return fail(protocol.ErrInternal, "sampling failed")
	}

	lo, hi := g.Range()
	entry.Cells = len(g.Values)
	entry.DurationMs = time.Since(start).Milliseconds()
	s.record(entry)
	return protocol.SliceMsg{
		Type:            protocol.TypeSlice,
		ProtocolVersion: protocol.Version,
		RequestID:       req.RequestID,
		Kind:            req.Kind,
		Min:             req.Min,
		Max:             req.Max,
		Step:            region.Step,
		Dims:            [3]int{g.NX, g.NY, g.NZ},
		Values:          g.Values,
		ValueMin:        lo,
		ValueMax:        hi,
	}, true
}

func (s *Server) record(e vlog.RequestEntry) {
	s.requests.Add(1)
	if e.Code != "" {
		s.failures.Add(1)
	}
	s.cells.Add(uint64(e.Cells))
	for _, sink := range s.sinks {
		if err := sink.WriteRequest(e); err != nil {
			s.log.Printf("request log: %v", err)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (session, client string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", ""
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version && !slices.Contains(hello.SupportedVersions, protocol.Version) {
		_ = writeJSON(conn, protocol.NewError("", protocol.ErrProtoVersion, "unsupported protocol_version"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", ""
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	session = fmt.Sprintf("S%d", s.nextID.Add(1))
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       session,
		Field:           s.FieldInfo(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return session, hello.ClientName
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
