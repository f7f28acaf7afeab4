package feed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Subscription receives raw notices from the node stream.
type Subscription interface {
	Notify(kind string, payload json.RawMessage)
}

// Conn is the slice of Client the listener drives.
type Conn interface {
	SetNoticeHandler(h NoticeHandler)
	Run(ctx context.Context) error
}

// Listener owns the process-wide feed lifecycle: subscriptions register at
// any time, Enable starts the stream exactly once.
type Listener struct {
	conn Conn
	log  *zap.Logger

	mu      sync.RWMutex
	subs    []Subscription
	enabled atomic.Bool
}

func NewListener(conn Conn, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{conn: conn, log: logger}
	conn.SetNoticeHandler(l.dispatch)
	return l
}

func (l *Listener) AddSubscription(s Subscription) {
	if s == nil {
		return
	}
	l.mu.Lock()
	l.subs = append(l.subs, s)
	l.mu.Unlock()
}

// Enable starts the stream reader once per process; further calls are
// no-ops.
func (l *Listener) Enable(ctx context.Context) {
	if !l.enabled.CompareAndSwap(false, true) {
		return
	}
	l.log.Info("feed_enabled")
	go func() {
		if err := l.conn.Run(ctx); err != nil && ctx.Err() == nil {
			l.log.Error("feed_stopped", zap.Error(err))
		}
	}()
}

func (l *Listener) dispatch(kind string, payload json.RawMessage) {
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()
	for _, s := range subs {
		s.Notify(kind, payload)
	}
}
