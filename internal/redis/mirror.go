package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dayuer/tourguide-go/internal/bus"
)

const (
	mirrorQueue   = 256
	mirrorTimeout = 3 * time.Second
)

type jobKind int

const (
	jobDispatch jobKind = iota
	jobClear
)

type job struct {
	kind     jobKind
	msg      bus.Message
	snapshot bus.SharedContext
}

// Mirror is a bus.Observer that copies every dispatch into Redis from a
// background goroutine. When the queue is full writes are dropped.
type Mirror struct {
	bus.NopObserver

	store  store
	prefix string
	limit  int

	jobs    chan job
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewMirror starts a mirror writing under prefix and keeping at most limit
// history entries. A nil client yields a mirror that discards everything.
func NewMirror(c *redis.Client, prefix string, limit int) *Mirror {
	var s store
	if c != nil {
		s = clientStore{c: c}
	}
	return newMirror(s, prefix, limit)
}

func newMirror(s store, prefix string, limit int) *Mirror {
	m := &Mirror{
		store:   s,
		prefix:  prefix,
		limit:   limit,
		jobs:    make(chan job, mirrorQueue),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if s == nil {
		close(m.done)
		close(m.stopped)
		return m
	}
	go m.run()
	return m
}

// Enabled reports whether the mirror writes anywhere.
func (m *Mirror) Enabled() bool { return m.store != nil }

// ContextKey returns the key holding the context snapshot.
func (m *Mirror) ContextKey() string { return m.prefix + KeyContext }

// HistoryKey returns the key holding the message list.
func (m *Mirror) HistoryKey() string { return m.prefix + KeyHistory }

// OnDispatch queues the message and the post-dispatch context.
func (m *Mirror) OnDispatch(msg bus.Message, snapshot bus.SharedContext) {
	m.enqueue(job{kind: jobDispatch, msg: msg, snapshot: snapshot})
}

// OnHistoryCleared queues deletion of the mirrored history.
func (m *Mirror) OnHistoryCleared() {
	m.enqueue(job{kind: jobClear})
}

func (m *Mirror) enqueue(j job) {
	if m.store == nil {
		return
	}
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.jobs <- j:
	default:
		if m.dropped.Add(1) == 1 {
			log.Println("[Redis] ⚠️ Mirror queue full, dropping writes")
		}
	}
}

func (m *Mirror) run() {
	defer close(m.stopped)
	for {
		select {
		case j := <-m.jobs:
			m.write(j)
		case <-m.done:
			// Drain what is already queued.
			for {
				select {
				case j := <-m.jobs:
					m.write(j)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case jobClear:
		err = m.store.ClearHistory(ctx, m.HistoryKey())
	case jobDispatch:
		err = m.writeDispatch(ctx, j)
	}
	if err != nil {
		m.failed.Add(1)
		log.Printf("[Redis] mirror write failed: %v", err)
	}
}

func (m *Mirror) writeDispatch(ctx context.Context, j job) error {
	snap, err := json.Marshal(j.snapshot)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(j.msg)
	if err != nil {
		return err
	}
	if err := m.store.AppendHistory(ctx, m.HistoryKey(), msg, m.limit); err != nil {
		return err
	}
	return m.store.SaveContext(ctx, m.ContextKey(), snap)
}

// Close stops the writer after flushing queued writes.
func (m *Mirror) Close() {
	m.once.Do(func() {
		if m.store != nil {
			close(m.done)
		}
	})
	<-m.stopped
}

// Stats returns how many writes were dropped and how many failed.
func (m *Mirror) Stats() (dropped, failed int64) {
	return m.dropped.Load(), m.failed.Load()
}

// LoadContext reads the mirrored context. ok is false when nothing is
// mirrored or Redis is unavailable.
func (m *Mirror) LoadContext(ctx context.Context) (bus.SharedContext, bool) {
	var out bus.SharedContext
	if m.store == nil {
		return out, false
	}
	data, err := m.store.LoadContext(ctx, m.ContextKey())
	if err != nil {
		log.Printf("[Redis] load context failed: %v", err)
		return out, false
	}
	if data == nil || json.Unmarshal(data, &out) != nil {
		return out, false
	}
	return out, true
}

// LoadHistory reads up to limit mirrored messages, oldest first. Entries
// that fail to decode are skipped.
func (m *Mirror) LoadHistory(ctx context.Context, limit int) []bus.Message {
	if m.store == nil {
		return nil
	}
	raw, err := m.store.LoadHistory(ctx, m.HistoryKey(), limit)
	if err != nil {
		log.Printf("[Redis] load history failed: %v", err)
		return nil
	}
	out := make([]bus.Message, 0, len(raw))
	for _, s := range raw {
		var msg bus.Message
		if err := json.Unmarshal([]byte(s), &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}
