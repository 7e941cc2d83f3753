package data

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/record"
)

// localTx batches snapshot changes across tables so they can be written
// together and rolled back if the matching enqueue fails. Callers hold s.mu.
//
// A snapshot that cannot be read poisons the transaction: commit refuses to
// write, so an unreadable table is never overwritten with a partial copy.
type localTx struct {
	s      *Service
	ctx    context.Context
	before map[record.Table][]record.Record
	after  map[record.Table][]record.Record
	order  []record.Table
	err    error
}

func (s *Service) begin(ctx context.Context) *localTx {
	return &localTx{
		s:      s,
		ctx:    ctx,
		before: make(map[record.Table][]record.Record),
		after:  make(map[record.Table][]record.Record),
	}
}

// rows returns the working copy of table.
func (tx *localTx) rows(table record.Table) []record.Record {
	if recs, ok := tx.after[table]; ok {
		return recs
	}
	recs, err := tx.s.readLocked(tx.ctx, table)
	if err != nil {
		if tx.err == nil {
			tx.err = fmt.Errorf("read %s snapshot: %w", table, err)
		}
		tx.after[table] = []record.Record{}
		return tx.after[table]
	}
	tx.before[table] = recs
	tx.order = append(tx.order, table)

	working := make([]record.Record, len(recs))
	for i, r := range recs {
		working[i] = r.Clone()
	}
	tx.after[table] = working
	return working
}

// find returns the working copy of the record with id, or nil.
func (tx *localTx) find(table record.Table, id string) record.Record {
	recs := tx.rows(table)
	if i := indexOf(recs, id); i >= 0 {
		return recs[i]
	}
	return nil
}

// put inserts rec or replaces the record with the same identity.
func (tx *localTx) put(table record.Table, rec record.Record) {
	recs := tx.rows(table)
	if i := indexOf(recs, rec.ID()); i >= 0 {
		recs[i] = rec
		return
	}
	tx.after[table] = append(recs, rec)
}

// remove drops every record for which drop returns true.
func (tx *localTx) remove(table record.Table, drop func(record.Record) bool) {
	recs := tx.rows(table)
	out := recs[:0]
	for _, r := range recs {
		if !drop(r) {
			out = append(out, r)
		}
	}
	tx.after[table] = out
}

func (tx *localTx) commit() error {
	if tx.err != nil {
		return tx.err
	}
	if tx.s.local == nil {
		return nil
	}
	for _, table := range tx.order {
		if err := tx.s.local.SaveSnapshot(tx.ctx, table, tx.after[table]); err != nil {
			return fmt.Errorf("save %s snapshot: %w", table, err)
		}
	}
	return nil
}

func (tx *localTx) rollback() error {
	var errs []error
	for _, table := range tx.order {
		if err := tx.s.local.SaveSnapshot(tx.ctx, table, tx.before[table]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s snapshot: %w", table, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) readLocked(ctx context.Context, table record.Table) ([]record.Record, error) {
	if s.local == nil {
		return []record.Record{}, nil
	}
	return s.local.GetSnapshot(ctx, table)
}

// loadLocked reads a snapshot for display, treating read failures as an
// empty cache.
func (s *Service) loadLocked(ctx context.Context, table record.Table) []record.Record {
	recs, err := s.readLocked(ctx, table)
	if err != nil {
		s.logger.Warn("failed to read snapshot",
			zap.String("table", string(table)),
			zap.Error(err))
		return []record.Record{}
	}
	return recs
}

// cachedRecord returns a copy of the cached record with id.
func (s *Service) cachedRecord(ctx context.Context, table record.Table, id string) (record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.loadLocked(ctx, table)
	if i := indexOf(recs, id); i >= 0 {
		return recs[i].Clone(), true
	}
	return nil, false
}

// indexOf finds id in recs. Temporary and confirmed forms of the same id
// match.
func indexOf(recs []record.Record, id string) int {
	if id == "" {
		return -1
	}
	want := record.ConfirmedID(id)
	for i, r := range recs {
		if record.ConfirmedID(r.ID()) == want {
			return i
		}
	}
	return -1
}

// withQuantity returns rec with its stock changed by delta.
func withQuantity(rec record.Record, delta int64, pending bool) record.Record {
	out := rec.Clone()
	q, _ := out.Int64(record.KeyQuantity)
	out[record.KeyQuantity] = q + delta
	if pending {
		out.MarkPending()
	}
	return out
}
