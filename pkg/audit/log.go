package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/logging"
)

// DefaultRingSize is the number of records kept in memory
const DefaultRingSize = 10000

// Observer is told about every append and every sink failure
type Observer interface {
	AuditAppended(outcome Outcome)
	AuditFailed()
}

// Log is the append-only audit log. Record serializes appends; the sink
// write happens under the same lock so sink order equals append order.
type Log struct {
	mu       sync.Mutex
	ring     []Record
	start    int
	size     int
	seq      uint64
	last     time.Time
	prev     string
	sink     Sink
	now      func() time.Time
	logger   logging.Logger
	observer Observer

	healthy  atomic.Bool
	failures atomic.Uint64
}

// Option configures a Log
type Option func(*Log)

// WithRingSize bounds the in-memory history
func WithRingSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.size = n
		}
	}
}

// WithLogger sets the side logger used for sink failures
func WithLogger(logger logging.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers an observer, typically metrics
func WithObserver(o Observer) Option {
	return func(l *Log) {
		l.observer = o
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// ResumeAfter continues the chain of a persisted log whose newest record
// is last.
func ResumeAfter(last Record) Option {
	return func(l *Log) {
		l.seq = last.Seq
		l.prev = last.Digest
		l.last = last.Timestamp
	}
}

// New creates a log writing to sink. A nil sink keeps records in memory
// only.
func New(sink Sink, opts ...Option) *Log {
	l := &Log{
		size:   DefaultRingSize,
		sink:   sink,
		now:    time.Now,
		logger: logging.Global(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ring = make([]Record, 0, min(l.size, 1024))
	l.healthy.Store(true)
	return l
}

// Record appends rec and returns the stored copy. It never fails: a sink
// error marks the log unhealthy and is logged, and the sink is skipped
// until Reset.
func (l *Log) Record(rec Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec.Seq = l.seq
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	ts := l.now().UTC().Round(0)
	if ts.Before(l.last) {
		ts = l.last
	}
	rec.Timestamp = ts
	l.last = ts
	if rec.Outcome == "" {
		rec.Outcome = OutcomeSuccess
	}
	rec.Prev = l.prev

	d, err := digest(rec)
	if err != nil {
		l.logger.Error("audit digest failed", logging.Uint64("seq", rec.Seq), logging.ErrorField(err))
	}
	rec.Digest = d
	l.prev = d

	l.append(rec)

	if l.sink != nil && l.healthy.Load() {
		if err := l.sink.Write(rec); err != nil {
			l.healthy.Store(false)
			l.failures.Add(1)
			l.logger.Error("audit sink write failed, sink disabled",
				logging.Uint64("seq", rec.Seq),
				logging.String("operation", rec.Operation),
				logging.ErrorField(mcperrors.AuditFailure(err)))
			if l.observer != nil {
				l.observer.AuditFailed()
			}
		}
	}
	if l.observer != nil {
		l.observer.AuditAppended(rec.Outcome)
	}
	return rec
}

// append adds rec to the ring, overwriting the oldest when full. Callers
// hold mu.
func (l *Log) append(rec Record) {
	if len(l.ring) < l.size {
		l.ring = append(l.ring, rec)
		return
	}
	l.ring[l.start] = rec
	l.start = (l.start + 1) % l.size
}

// Healthy reports whether the sink is still being written
func (l *Log) Healthy() bool { return l.healthy.Load() }

// Failures returns the number of sink failures
func (l *Log) Failures() uint64 { return l.failures.Load() }

// Reset re-enables a sink that failed
func (l *Log) Reset() {
	l.healthy.Store(true)
}

// Len returns the number of records held in memory
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ring)
}

// Seq returns the sequence number of the newest record
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Records returns the in-memory records, oldest first
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, len(l.ring))
	out = append(out, l.ring[l.start:]...)
	return append(out, l.ring[:l.start]...)
}

// Iterate calls fn for each in-memory record, oldest first, until fn
// returns false. fn must not call back into the log.
func (l *Log) Iterate(fn func(Record) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.ring)
	for i := 0; i < n; i++ {
		if !fn(l.ring[(l.start+i)%n]) {
			return
		}
	}
}

// Close closes the sink
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}
