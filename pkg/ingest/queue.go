package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
)

var (
	ErrQueueFull   = errors.New("ingest queue is full")
	ErrQueueClosed = errors.New("ingest queue is closed")
)

// Runner is one ingestion attempt plus the terminal failure transition.
type Runner interface {
	Run(ctx context.Context, tenantID, documentID uuid.UUID) Result
	MarkFailed(ctx context.Context, tenantID, documentID uuid.UUID) error
}

type QueueConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
	// OnDone, if set, is called after each job reaches a final result.
	OnDone func(documentID uuid.UUID, result Result)
}

type job struct {
	documentID uuid.UUID
	tenantID   uuid.UUID
}

// ProcessingLister finds documents whose ingestion never finished.
type ProcessingLister interface {
	ProcessingDocuments(ctx context.Context, limit int) ([]models.Document, error)
}

// Queue runs ingestion jobs on a fixed pool of workers. A document waiting
// in the queue is not queued a second time.
type Queue struct {
	runner Runner
	config QueueConfig
	log    *slog.Logger

	jobs chan job

	mu      sync.Mutex
	pending map[uuid.UUID]bool
	active  map[uuid.UUID]bool
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(runner Runner, config QueueConfig) *Queue {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 60 * time.Second
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Queue{
		runner:  runner,
		config:  config,
		log:     log,
		jobs:    make(chan job, config.QueueSize),
		pending: make(map[uuid.UUID]bool),
		active:  make(map[uuid.UUID]bool),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is
// called.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue schedules a document. A document that is being processed right
// now is queued again so that its latest content gets indexed.
func (q *Queue) Enqueue(documentID, tenantID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(documentID, tenantID)
}

func (q *Queue) enqueueLocked(documentID, tenantID uuid.UUID) error {
	if q.closed {
		return ErrQueueClosed
	}
	if q.pending[documentID] {
		return nil
	}

	select {
	case q.jobs <- job{documentID: documentID, tenantID: tenantID}:
		q.pending[documentID] = true
		return nil
	default:
		return ErrQueueFull
	}
}

// Recover queues documents left in processing, skipping the ones this queue
// already holds or is running. It stops early when the queue fills up and
// returns how many documents it queued.
func (q *Queue) Recover(ctx context.Context, lister ProcessingLister) (int, error) {
	docs, err := lister.ProcessingDocuments(ctx, q.config.QueueSize)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	queued := 0
	for _, doc := range docs {
		if q.active[doc.ID] || q.pending[doc.ID] {
			continue
		}
		if err := q.enqueueLocked(doc.ID, doc.TenantID); err != nil {
			if errors.Is(err, ErrQueueFull) {
				break
			}
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// RunRecovery calls Recover right away and then every interval until ctx is
// done. Documents stranded by a crash, a shutdown or a full queue end up
// back on the queue this way.
func (q *Queue) RunRecovery(ctx context.Context, lister ProcessingLister, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := q.Recover(ctx, lister)
		switch {
		case errors.Is(err, ErrQueueClosed), ctx.Err() != nil:
			return
		case err != nil:
			q.log.Error("ingest.recover", "error", err)
		case n > 0:
			q.log.Info("ingest.recovered", "documents", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop refuses new jobs and waits for the workers. While the Start context
// is live they drain what is queued first; once it is cancelled, queued and
// running documents are left in processing.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
	if q.cancel != nil {
		q.cancel()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.mu.Lock()
			delete(q.pending, j.documentID)
			q.active[j.documentID] = true
			q.mu.Unlock()

			result := q.process(ctx, j)

			q.mu.Lock()
			delete(q.active, j.documentID)
			q.mu.Unlock()

			if q.config.OnDone != nil {
				q.config.OnDone(j.documentID, result)
			}
		}
	}
}

// process retries Retryable results up to MaxRetries times, waiting
// RetryDelay times the attempt number in between. A run cut short by
// shutdown leaves the document in processing instead of failing it.
func (q *Queue) process(ctx context.Context, j job) Result {
	log := q.log.With("document_id", j.documentID, "tenant_id", j.tenantID)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return q.interrupted(log, ctx.Err())
		}
		result := q.runner.Run(ctx, j.tenantID, j.documentID)
		if result.Kind != Succeeded && ctx.Err() != nil {
			return q.interrupted(log, ctx.Err())
		}

		switch result.Kind {
		case Succeeded:
			return result
		case Retryable:
			if attempt <= q.config.MaxRetries {
				delay := q.config.RetryDelay * time.Duration(attempt)
				log.Warn("ingest.retry", "attempt", attempt, "delay", delay, "error", result.Err)
				if err := sleep(ctx, delay); err != nil {
					return q.interrupted(log, err)
				}
				continue
			}
		}

		q.fail(log, j, result)
		return result
	}
}

func (q *Queue) interrupted(log *slog.Logger, err error) Result {
	log.Warn("ingest.interrupted", "error", err)
	return Result{Kind: Interrupted, Err: err}
}

func (q *Queue) fail(log *slog.Logger, j job, result Result) {
	log.Error("ingest.failed", "kind", result.Kind, "error", result.Err)

	// The job context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.runner.MarkFailed(ctx, j.tenantID, j.documentID); err != nil {
		log.Error("ingest.mark_failed", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
