package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/metrics"
	"github.com/vibecode/vibecode/internal/models"
	"go.uber.org/zap"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("writer closed")

// Kind separates the write streams of a project.
type Kind string

const (
	KindState Kind = "state"
	KindChat  Kind = "chat"
)

// WriteResult describes one completed background write.
type WriteResult struct {
	ProjectID string
	Kind      Kind
	Outcome   Outcome
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	// Timeout bounds each write. Zero means 30 seconds.
	Timeout time.Duration
	// OnWrite, when set, is called after every write.
	OnWrite func(WriteResult)
}

type slotKey struct {
	projectID string
	kind      Kind
}

type pendingWrite struct {
	snap     Snapshot
	messages []models.ChatMessage
	fp       uint64
}

// slot holds at most one pending write; at most one write per slot is in
// flight.
type slot struct {
	pending *pendingWrite
	running bool
	written bool
	lastFP  uint64
}

// Writer serializes saves per project. Submit replaces whatever is pending
// for the same project and kind, so the last submitted snapshot is the one
// that ends up persisted.
type Writer struct {
	gw  *Gateway
	cfg WriterConfig

	mu     sync.Mutex
	slots  map[slotKey]*slot
	active int
	idle   chan struct{}
	closed bool
}

// NewWriter creates a writer on top of a gateway.
func NewWriter(gw *Gateway, cfg WriterConfig) *Writer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Writer{
		gw:    gw,
		cfg:   cfg,
		slots: make(map[slotKey]*slot),
	}
}

// SubmitState queues a state snapshot of a project.
func (w *Writer) SubmitState(projectID string, snap Snapshot) error {
	return w.submit(slotKey{projectID, KindState}, &pendingWrite{snap: snap, fp: snap.Fingerprint()})
}

// SubmitChat queues a project's chat log. Stores append by id, so the
// latest full log supersedes any earlier pending one.
func (w *Writer) SubmitChat(projectID string, messages []models.ChatMessage) error {
	msgs := append([]models.ChatMessage(nil), messages...)
	return w.submit(slotKey{projectID, KindChat}, &pendingWrite{messages: msgs, fp: fingerprint(msgs)})
}

func (w *Writer) submit(key slotKey, pw *pendingWrite) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	s, ok := w.slots[key]
	if !ok {
		s = &slot{}
		w.slots[key] = s
	}
	if s.pending != nil {
		metrics.RecordSuperseded()
	}
	s.pending = pw

	if !s.running {
		s.running = true
		if w.active == 0 {
			w.idle = make(chan struct{})
		}
		w.active++
		go w.run(key, s)
	}
	return nil
}

func (w *Writer) run(key slotKey, s *slot) {
	for {
		w.mu.Lock()
		pw := s.pending
		if pw == nil {
			s.running = false
			w.active--
			if w.active == 0 {
				close(w.idle)
			}
			w.mu.Unlock()
			return
		}
		s.pending = nil
		skip := s.written && s.lastFP == pw.fp
		w.mu.Unlock()

		if skip {
			logging.Debug("skipping unchanged snapshot",
				logging.Project(key.projectID), zap.String("kind", string(key.kind)))
			continue
		}

		outcome := w.write(key, pw)

		w.mu.Lock()
		s.written = outcome != OutcomeNone
		s.lastFP = pw.fp
		w.mu.Unlock()

		if w.cfg.OnWrite != nil {
			w.cfg.OnWrite(WriteResult{ProjectID: key.projectID, Kind: key.kind, Outcome: outcome})
		}
	}
}

func (w *Writer) write(key slotKey, pw *pendingWrite) Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	if key.kind == KindChat {
		return w.gw.SaveChat(ctx, key.projectID, pw.messages)
	}
	return w.gw.SaveState(ctx, key.projectID, pw.snap)
}

// Flush waits until nothing is pending or in flight.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.active == 0 {
		w.mu.Unlock()
		return nil
	}
	idle := w.idle
	w.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close refuses further submissions and flushes.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.Flush(ctx)
}
