package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RunLogger persists a run. *DB implements it.
type RunLogger interface {
	LogRun(ctx context.Context, run *Run) error
}

// AuditWriter persists runs off the request path. Log never blocks; entries
// that do not fit the buffer are dropped.
type AuditWriter struct {
	db      RunLogger
	ch      chan *Run
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
	onDrop  func()
	backoff time.Duration
}

// NewAuditWriter creates a writer. onDrop, if non-nil, is called for each
// entry dropped because the buffer was full.
func NewAuditWriter(db RunLogger, bufferSize int, onDrop func()) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:      db,
		ch:      make(chan *Run, bufferSize),
		done:    make(chan struct{}),
		onDrop:  onDrop,
		backoff: 100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

func (w *AuditWriter) Log(run *Run) {
	select {
	case w.ch <- run:
	default:
		log.Warn().Str("run_id", run.ID).Msg("audit buffer full, dropping log entry")
		if w.onDrop != nil {
			w.onDrop()
		}
	}
}

// Flush stops the writer and waits up to timeout for buffered runs to drain.
func (w *AuditWriter) Flush(timeout time.Duration) {
	w.once.Do(func() { close(w.done) })

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case run := <-w.ch:
			w.writeWithRetry(run)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case run := <-w.ch:
					w.writeWithRetry(run)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(run *Run) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogRun(ctx, run)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.backoff
			log.Warn().
				Err(err).
				Str("run_id", run.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("run_id", run.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
