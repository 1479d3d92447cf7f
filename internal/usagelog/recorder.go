package usagelog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// Recorder accepts Records and flushes derived usage and audit entries to a
// Sink in batches from a background goroutine.
type Recorder struct {
	ch        chan Record
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	baseCtx context.Context
	sink    Sink
	log     *slog.Logger
}

func New(ctx context.Context, sink Sink, log *slog.Logger) (*Recorder, error) {
	if ctx == nil {
		return nil, fmt.Errorf("usagelog: context must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("usagelog: sink must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Recorder{
		ch:      make(chan Record, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		sink:    sink,
		log:     log,
	}

	r.wg.Add(1)
	go r.run()

	return r, nil
}

// Log enqueues a record without blocking. Records are dropped when the
// buffer is full.
func (r *Recorder) Log(rec Record) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	} else {
		rec.CreatedAt = rec.CreatedAt.UTC()
	}

	select {
	case r.ch <- rec:
	default:
		atomic.AddInt64(&r.dropped, 1)
	}
}

func (r *Recorder) Dropped() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Close drains the buffer, flushes the final batch, and stops the background
// goroutine.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		usage := make([]UsageEntry, 0, len(batch))
		audit := make([]AuditEntry, 0, len(batch))
		for _, rec := range batch {
			u, a := split(rec)
			usage = append(usage, u)
			audit = append(audit, a)
		}
		if err := r.sink.WriteUsage(ctx, usage); err != nil {
			r.log.WarnContext(ctx, "usage flush failed",
				slog.Int("entries", len(usage)),
				slog.String("error", err.Error()),
			)
		}
		if err := r.sink.WriteAudit(ctx, audit); err != nil {
			r.log.WarnContext(ctx, "audit flush failed",
				slog.Int("entries", len(audit)),
				slog.String("error", err.Error()),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-r.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush(r.baseCtx)
			}

		case <-ticker.C:
			flush(r.baseCtx)

		case <-r.done:
			for {
				select {
				case rec := <-r.ch:
					batch = append(batch, rec)
					if len(batch) >= batchSize {
						flush(r.baseCtx)
					}
				default:
					flush(r.baseCtx)
					return
				}
			}
		}
	}
}
