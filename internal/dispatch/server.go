package dispatch

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/metrics"
	"github.com/agentcad/cadcore/internal/session"
)

// Server runs the newline-delimited JSON-RPC loop over one session
// (spec.md §5: sessions are served sequentially within one OS process, but
// each request's handler may itself fan out internally via errgroup). It
// mirrors the teacher's mcp/server.go read-dispatch-write loop, generalized
// to one flat Method contract and a bounded worker pool.
type Server struct {
	Registry *Registry
	Session  *session.Session
	Logger   *slog.Logger

	// QueueSize bounds how many requests may be read ahead of completed
	// responses; 0 means synchronous (read one, fully handle it, read the
	// next).
	QueueSize int

	// HandlerTimeout is each handler invocation's wall-clock budget
	// (spec.md §5); handlers observe it through their context at safe
	// points and return Timeout on expiry.
	HandlerTimeout time.Duration

	// Metrics, when set, receives per-request counters and latencies.
	Metrics *metrics.Registry
}

func NewServer(reg *Registry, sess *session.Session, logger *slog.Logger) *Server {
	return &Server{Registry: reg, Session: sess, Logger: logger, QueueSize: 8, HandlerTimeout: 10 * time.Minute}
}

// Run reads newline-delimited Requests from r and writes newline-delimited
// Responses (and any ProgressFrames a handler emits) to w until r is
// exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	var writeMu sync.Mutex
	writeLine := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		enc := json.NewEncoder(w)
		return enc.Encode(v)
	}

	queueSize := s.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	sem := make(chan struct{}, queueSize)

	if s.Metrics != nil {
		s.Metrics.OpenSessions.Inc()
		defer s.Metrics.OpenSessions.Dec()
	}

	eg, ctx := errgroup.WithContext(ctx)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

scanLoop:
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			break scanLoop
		default:
		}

		sem <- struct{}{}
		eg.Go(func() error {
			defer func() { <-sem }()
			s.handleLine(ctx, line, writeLine)
			return nil
		})
	}
	waitErr := eg.Wait()
	if err := scanner.Err(); err != nil {
		return err
	}
	return waitErr
}

func (s *Server) handleLine(ctx context.Context, line []byte, writeLine func(interface{}) error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		_ = writeLine(Response{Version: wireVersion, Error: toWireError(errs.New(errs.ParseError, "invalid JSON-RPC request: %v", err))})
		return
	}

	s.Session.RecordRequest()
	method, ok := s.Registry.Lookup(req.Method)
	if !ok {
		resp := Response{Version: wireVersion, ID: &req.ID, Error: toWireError(errs.New(errs.MethodNotFound, "unknown method %q", req.Method))}
		s.Session.RecordError(req.Method, string(errs.MethodNotFound), resp.Error.Message)
		_ = writeLine(resp)
		return
	}

	if kind := checkRole(method, s.Session); kind != nil {
		resp := Response{Version: wireVersion, ID: &req.ID, Error: toWireError(kind)}
		s.Session.RecordError(req.Method, string(kind.Code), kind.Message)
		_ = writeLine(resp)
		return
	}

	if s.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.HandlerTimeout)
		defer cancel()
	}

	progress := make(chan ProgressFrame, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for frame := range progress {
			frame.Version, frame.ID, frame.Frame = wireVersion, req.ID, true
			_ = writeLine(frame)
		}
	}()

	started := time.Now()
	result, kind := method.Handle(ctx, s.Session, req.Params, progress)
	close(progress)
	wg.Wait()

	resp := Response{Version: wireVersion, ID: &req.ID}
	status := "success"
	if kind != nil {
		resp.Error = toWireError(kind)
		s.Session.RecordError(req.Method, string(kind.Code), kind.Message)
		status = string(kind.Code)
	} else {
		resp.Result = result
	}
	if s.Metrics != nil {
		s.Metrics.RequestsTotal.WithLabelValues(req.Method, status).Inc()
		s.Metrics.RequestDuration.WithLabelValues(req.Method).Observe(time.Since(started).Seconds())
	}
	if err := writeLine(resp); err != nil && s.Logger != nil {
		s.Logger.Error("writing response", "method", req.Method, "error", err)
	}
}

func toWireError(k *errs.Kind) *WireError {
	if k == nil {
		return nil
	}
	return &WireError{
		Code: string(k.Code), Message: k.Message, Field: k.Field, ProvidedValue: k.ProvidedValue,
		AcceptedRange: k.AcceptedRange, Suggestion: k.Suggestion, Recoverable: k.Recoverable, ConflictSet: k.ConflictSet,
	}
}
