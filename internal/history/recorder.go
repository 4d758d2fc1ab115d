package history

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ariston-bridge/internal/bridges/ariston"
)

const (
	defaultQueueSize     = 256
	defaultPruneInterval = time.Hour
	maxBatch             = 64

	// writeTimeout bounds each batch insert and prune.
	writeTimeout = 5 * time.Second
)

// Logger is the logging surface used by the recorder.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Repository Repository

	// Retention is how long records are kept. Zero disables pruning.
	Retention time.Duration

	// PruneInterval defaults to one hour.
	PruneInterval time.Duration

	// QueueSize bounds the records waiting to be written. Default 256.
	QueueSize int

	Logger Logger
}

// Recorder persists set outcomes off the set pipeline's goroutine. Observe
// never blocks: when the queue is full the record is dropped and counted.
type Recorder struct {
	repo          Repository
	retention     time.Duration
	pruneInterval time.Duration
	queue         chan Record
	dropped       atomic.Int64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewRecorder creates a recorder. Call Start before registering Observe.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("history: repository is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	return &Recorder{
		repo:          cfg.Repository,
		retention:     cfg.Retention,
		pruneInterval: cfg.PruneInterval,
		queue:         make(chan Record, cfg.QueueSize),
		done:          make(chan struct{}),
		logger:        cfg.Logger,
	}, nil
}

// Observe queues a set outcome. It matches ariston.SetObserver.
func (r *Recorder) Observe(rec ariston.SetRecord) {
	record := Record{
		CommandID: rec.RequestID,
		Parameter: rec.Parameter,
		OldValue:  rec.Old,
		NewValue:  rec.New,
		Status:    string(rec.Status),
		Attempts:  rec.Attempts,
		Source:    rec.Source,
		CreatedAt: rec.At,
	}
	if rec.Err != nil {
		record.Error = rec.Err.Error()
	}

	select {
	case r.queue <- record:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Start launches the writer goroutine.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop flushes queued records and stops the writer. Safe to call multiple
// times.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	var pruneC <-chan time.Time
	if r.retention > 0 {
		ticker := time.NewTicker(r.pruneInterval)
		defer ticker.Stop()
		pruneC = ticker.C
		r.prune()
	}

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case <-r.done:
			r.drain()
			return
		case rec := <-r.queue:
			r.write(r.batch(rec))
		case <-pruneC:
			r.prune()
		}
	}
}

// batch collects first plus whatever else is already queued.
func (r *Recorder) batch(first Record) []Record {
	batch := []Record{first}
	for len(batch) < maxBatch {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) drain() {
	for {
		select {
		case rec := <-r.queue:
			r.write(r.batch(rec))
		default:
			return
		}
	}
}

func (r *Recorder) write(batch []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Insert(ctx, batch); err != nil && r.logger != nil {
		r.logger.Warn("set history write failed", "records", len(batch), "error", err)
	}
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n, err := r.repo.Prune(ctx, r.retention)
	if r.logger == nil {
		return
	}
	if err != nil {
		r.logger.Warn("set history prune failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned set history", "deleted", n, "retention", r.retention.String())
	}
}
