package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBackupQueueSize = 256
	backupWriteTimeout     = 5 * time.Second
)

// backupQueue serializes mirror writes off the request path. The queue is
// bounded; on overflow the oldest pending backup is dropped in favor of the
// new one, since a later snapshot supersedes an earlier one anyway.
// Failures are logged and counted, never surfaced to callers.
type backupQueue struct {
	store  *Store
	ch     chan string
	done   chan struct{}
	closed chan struct{}
}

func newBackupQueue(store *Store, size int) *backupQueue {
	q := &backupQueue{
		store:  store,
		ch:     make(chan string, size),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go q.run()
	return q
}

// enqueue schedules a backup. Returns false only when the queue has been
// closed and the write can no longer be scheduled.
func (q *backupQueue) enqueue(sessionID string) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	for {
		select {
		case q.ch <- sessionID:
			return true
		default:
		}
		// Queue full: drop the oldest pending backup and retry.
		select {
		case dropped := <-q.ch:
			q.store.metrics.RecordBackupDropped()
			log.Warn().Str("sessionId", dropped).Msg("backup queue full, dropping oldest pending backup")
		default:
		}
	}
}

func (q *backupQueue) close() {
	close(q.done)
	<-q.closed
}

func (q *backupQueue) run() {
	defer close(q.closed)
	for {
		select {
		case <-q.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case id := <-q.ch:
					q.flush(id)
				default:
					return
				}
			}
		case id := <-q.ch:
			q.flush(id)
		}
	}
}

func (q *backupQueue) flush(sessionID string) {
	snap := q.store.snapshot(sessionID)
	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backupWriteTimeout)
	defer cancel()

	if err := q.store.mirror.Save(ctx, snap); err != nil {
		q.store.metrics.RecordBackupFailure()
		log.Error().Err(err).Str("sessionId", sessionID).Msg("session backup failed")
		return
	}
	log.Debug().Str("sessionId", sessionID).Msg("session mirrored")
}
