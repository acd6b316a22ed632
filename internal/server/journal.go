package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/roster-chat/internal/chat"
	apperrors "github.com/omochice/roster-chat/internal/errors"
	"github.com/omochice/roster-chat/internal/storage"
)

const (
	journalTimeout = 2 * time.Second
	journalQueue   = 256
)

type recorder interface {
	Record(ctx context.Context, ev storage.Event) error
}

// journalObserver writes joins and departures of registered connections
// to the presence journal. Callbacks only queue the event; one worker
// goroutine does the writes in order.
type journalObserver struct {
	chat.NopObserver
	journal recorder
	log     *zap.Logger

	queue     chan storage.Event
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newJournalObserver(journal recorder, log *zap.Logger) *journalObserver {
	o := &journalObserver{
		journal: journal,
		log:     log,
		queue:   make(chan storage.Event, journalQueue),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *journalObserver) Registered(c *chat.Connection) {
	account, _ := c.Account()
	o.enqueue(storage.Event{
		Kind:       storage.EventJoin,
		Account:    account,
		RemoteAddr: c.RemoteAddr(),
		At:         time.Now(),
	})
}

func (o *journalObserver) Departed(c *chat.Connection, reason error) {
	account, ok := c.Account()
	if !ok {
		return
	}
	o.enqueue(storage.Event{
		Kind:       storage.EventLeave,
		Account:    account,
		RemoteAddr: c.RemoteAddr(),
		Detail:     apperrors.GetCode(reason),
		At:         time.Now(),
	})
}

// enqueue never blocks. Events arriving while the queue is full or after
// Close are dropped with a warning.
func (o *journalObserver) enqueue(ev storage.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.log.Warn("journal closed, presence event dropped",
			zap.String("kind", string(ev.Kind)),
			zap.String("account", ev.Account))
		return
	}
	select {
	case o.queue <- ev:
	default:
		o.log.Warn("journal queue full, presence event dropped",
			zap.String("kind", string(ev.Kind)),
			zap.String("account", ev.Account))
	}
}

func (o *journalObserver) run() {
	defer close(o.done)
	for ev := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		err := o.journal.Record(ctx, ev)
		cancel()
		if err != nil {
			o.log.Warn("failed to journal presence event",
				zap.String("kind", string(ev.Kind)),
				zap.String("account", ev.Account),
				zap.Error(err))
		}
	}
}

// Close stops accepting events and waits until the queued ones are
// written.
func (o *journalObserver) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.queue)
		o.mu.Unlock()
	})
	<-o.done
}
