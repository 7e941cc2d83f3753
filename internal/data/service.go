// Package data is the façade the application reads and writes business
// records through. Writes go to the backend when it is reachable and fall
// back to optimistic local changes plus a queued operation when it is not;
// reads prefer fresh remote data and fall back to the cached snapshot.
package data

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/status"
	"github.com/MarquesJr132/stock-system/internal/store"
)

// DefaultTimeout bounds each online attempt before the write falls back to
// the queue.
const DefaultTimeout = 3 * time.Second

// LocalStore is the part of the local store the façade needs.
type LocalStore interface {
	SaveSnapshot(ctx context.Context, table record.Table, recs []record.Record) error
	GetSnapshot(ctx context.Context, table record.Table) ([]record.Record, error)
	Enqueue(ctx context.Context, op store.NewOperation) (string, error)
	ListOperations(ctx context.Context) ([]store.Operation, error)
	PendingCount(ctx context.Context) (int, error)
}

// Identity scopes every record the façade touches.
type Identity struct {
	TenantID string
	ActorID  string
}

// Config configures a Service.
type Config struct {
	Backend remote.Backend
	// Local may be nil; the service then works online only.
	Local    LocalStore
	Tracker  *status.Tracker
	Identity Identity
	Timeout  time.Duration
	Registry *reconcile.Registry
	Logger   *zap.Logger
	Now      func() time.Time
}

// FetchResult is the outcome of a read.
type FetchResult struct {
	Records []record.Record `json:"records" yaml:"records"`
	// FromCache is set when the records come from the local snapshot.
	FromCache bool `json:"from_cache" yaml:"from_cache"`
}

// WriteResult is the outcome of a write.
type WriteResult struct {
	Record record.Record `json:"record" yaml:"record"`
	// Pending is set when the write was applied locally and queued.
	Pending bool `json:"pending" yaml:"pending"`
}

// Service reads and writes business records for one tenant. Safe for
// concurrent use.
type Service struct {
	backend  remote.Backend
	local    LocalStore
	tracker  *status.Tracker
	identity Identity
	timeout  time.Duration
	registry *reconcile.Registry
	logger   *zap.Logger
	now      func() time.Time
	validate *validator.Validate

	// writeMu serializes writes so cached stock checks stay accurate.
	writeMu sync.Mutex
	// mu guards snapshot read-modify-write cycles and their enqueue.
	mu sync.Mutex
}

// New returns a Service for cfg.
func New(cfg Config) *Service {
	s := &Service{
		backend:  cfg.Backend,
		local:    cfg.Local,
		tracker:  cfg.Tracker,
		identity: cfg.Identity,
		timeout:  cfg.Timeout,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		now:      cfg.Now,
		validate: newValidator(),
	}
	if s.tracker == nil {
		s.tracker = status.New(true, time.Time{})
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.registry == nil {
		s.registry = reconcile.DefaultRegistry()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Identity returns the tenant and actor the service writes as.
func (s *Service) Identity() Identity {
	return s.identity
}

// Status returns the current sync status.
func (s *Service) Status() status.Status {
	return s.tracker.Snapshot()
}

func (s *Service) online() bool {
	return s.backend != nil && s.tracker.Online()
}

// refreshPending publishes the current log length. Errors are logged.
func (s *Service) refreshPending(ctx context.Context) {
	if s.local == nil {
		return
	}
	n, err := s.local.PendingCount(ctx)
	if err != nil {
		s.logger.Warn("failed to count pending operations", zap.Error(err))
		return
	}
	s.tracker.SetPending(n)
}
