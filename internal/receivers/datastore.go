package receivers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/observability"
	"github.com/sirosfoundation/go-msh/internal/storage"
)

// DatastoreConfig selects the records a DatastoreReceiver polls for
type DatastoreConfig struct {
	Table  entities.Table
	Field  string
	Value  string
	LockTo string

	PollInterval time.Duration
	BatchSize    int
}

// DefaultDatastoreConfig returns the polling defaults
func DefaultDatastoreConfig() *DatastoreConfig {
	return &DatastoreConfig{
		Field:        storage.FieldOperation,
		PollInterval: 5 * time.Second,
		BatchSize:    20,
	}
}

// DatastoreReceiver claims records from the repository and hands each one
// to the agent. Several receivers may poll the same table; the claim makes
// sure each record is handled by one of them.
type DatastoreReceiver struct {
	repo   storage.Repository
	query  storage.ClaimQuery
	poll   time.Duration
	agent  string
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewDatastoreReceiver creates a receiver. agent names it in logs and metrics.
func NewDatastoreReceiver(repo storage.Repository, cfg *DatastoreConfig, agent string, logger *slog.Logger) (*DatastoreReceiver, error) {
	if cfg == nil {
		cfg = DefaultDatastoreConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultDatastoreConfig().PollInterval
	}
	q := storage.ClaimQuery{
		Table:  cfg.Table,
		Field:  cfg.Field,
		Value:  cfg.Value,
		LockTo: cfg.LockTo,
		Limit:  cfg.BatchSize,
	}
	if q.Field == "" {
		q.Field = storage.FieldOperation
	}
	if q.Limit <= 0 {
		q.Limit = DefaultDatastoreConfig().BatchSize
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.NoOp() {
		logger.Warn("lock value is not a processing state, receiver will never claim records",
			"table", q.Table, "lock_to", q.LockTo)
	}
	return &DatastoreReceiver{
		repo:   repo,
		query:  q,
		poll:   poll,
		agent:  agent,
		logger: logger.With("receiver", "datastore", "table", string(q.Table)),
	}, nil
}

// Start polls until ctx is done or Stop is called. Records already claimed
// when stopping are handled before Start returns. After Stop, Start returns
// context.Canceled without polling.
func (r *DatastoreReceiver) Start(ctx context.Context, handle msh.Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return context.Canceled
	}
	r.cancel, r.done = cancel, done
	r.mu.Unlock()
	defer close(done)
	defer cancel()

	r.logger.Info("receiver started", "field", r.query.Field, "value", r.query.Value, "poll_interval", r.poll)

	for {
		n, err := r.poll1(ctx, handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("polling failed", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A full batch suggests more work is waiting.
		if n >= r.query.Limit {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

// Stop ends polling and waits for Start to return
func (r *DatastoreReceiver) Stop() {
	r.mu.Lock()
	r.stopped = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// poll1 claims one batch and handles it
func (r *DatastoreReceiver) poll1(ctx context.Context, handle msh.Handler) (int, error) {
	ids, err := r.repo.Claim(ctx, r.query)
	if err != nil {
		return 0, fmt.Errorf("claiming records: %w", err)
	}
	observability.RecordClaimed(r.agent, string(r.query.Table), len(ids))

	// Claimed records are ours now; finish them even when stopping.
	work := context.WithoutCancel(ctx)
	for _, id := range ids {
		e, err := entities.New(r.query.Table)
		if err != nil {
			return len(ids), err
		}
		if err := r.repo.Get(work, id, e); err != nil {
			r.logger.Error("failed to load claimed record", "id", id, "error", err)
			continue
		}
		result := handle(work, e)
		if err := result.Close(); err != nil {
			r.logger.Warn("failed to release resources", "id", id, "error", err)
		}
	}
	return len(ids), nil
}

var _ msh.Receiver = (*DatastoreReceiver)(nil)
