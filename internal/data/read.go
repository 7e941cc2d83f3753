package data

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/store"
)

// Fetch returns every record of table for the current tenant. Online it
// reads the backend, re-applies queued changes on top and refreshes the
// snapshot; offline, or when the backend read fails, it serves the snapshot.
func (s *Service) Fetch(ctx context.Context, table record.Table) (FetchResult, error) {
	if !table.Known() {
		return FetchResult{}, &ValidationError{Table: table, Field: "table", Reason: "unknown table"}
	}

	if s.online() {
		rows, err := s.selectRemote(ctx, table)
		if err == nil {
			return FetchResult{Records: s.storeFetched(ctx, table, rows)}, nil
		}
		s.logger.Warn("remote fetch failed, serving cache",
			zap.String("table", string(table)),
			zap.Error(err))
	}

	if s.local == nil {
		return FetchResult{Records: []record.Record{}, FromCache: true}, ErrLocalUnavailable
	}
	s.mu.Lock()
	recs := s.loadLocked(ctx, table)
	s.mu.Unlock()
	return FetchResult{Records: recs, FromCache: true}, nil
}

// Refresh reloads the snapshots of tables from the backend.
func (s *Service) Refresh(ctx context.Context, tables ...record.Table) error {
	var errs []error
	for _, table := range tables {
		rows, err := s.selectRemote(ctx, table)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", table, err))
			continue
		}
		s.storeFetched(ctx, table, rows)
	}
	return errors.Join(errs...)
}

func (s *Service) selectRemote(ctx context.Context, table record.Table) ([]record.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.Select(ctx, table, s.identity.TenantID)
}

// storeFetched overlays queued changes on rows and saves the result as the
// new snapshot. Save failures are logged; the merged rows are still returned.
func (s *Service) storeFetched(ctx context.Context, table record.Table, rows []record.Record) []record.Record {
	if s.local == nil {
		return rows
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.local.ListOperations(ctx)
	if err != nil {
		s.logger.Warn("failed to list pending operations, snapshot not saved",
			zap.String("table", string(table)),
			zap.Error(err))
		return overlay(table, rows, nil)
	}
	merged := overlay(table, rows, ops)
	if err := s.local.SaveSnapshot(ctx, table, merged); err != nil {
		s.logger.Warn("failed to save snapshot",
			zap.String("table", string(table)),
			zap.Error(err))
	}
	return merged
}

// overlay re-applies queued operations to freshly fetched rows so that a
// refresh never hides a change that has not reached the backend yet. Steps
// already confirmed by a partial replay are not applied twice.
func overlay(table record.Table, rows []record.Record, ops []store.Operation) []record.Record {
	out := make([]record.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Clone())
	}

	for _, op := range ops {
		switch {
		case op.Table == table:
			out = overlayOwn(out, op)

		case op.Type == store.OpCreate && record.ItemTables[op.Table] == table:
			parentKey := record.ParentKeys[table]
			for _, it := range op.Payload.Records(reconcile.KeyItems) {
				if indexOf(out, it.ID()) >= 0 {
					continue
				}
				item := it.Clone()
				item[parentKey] = op.Payload.ID()
				if !item.Has(record.KeyTenantID) {
					item[record.KeyTenantID] = op.TenantID
				}
				item.MarkPending()
				out = append(out, item)
			}

		case op.Type == store.OpCreate && op.Table == record.Sales && table == record.Products:
			for _, it := range op.Payload.Records(reconcile.KeyItems) {
				if op.Done(reconcile.StockStep(it.ID())) {
					continue
				}
				qty, ok := it.Int64(record.KeyQuantity)
				if !ok {
					continue
				}
				if i := indexOf(out, it.String("product_id")); i >= 0 {
					out[i] = withQuantity(out[i], -qty, true)
				}
			}
		}
	}
	return out
}

func overlayOwn(out []record.Record, op store.Operation) []record.Record {
	id := op.Payload.ID()
	i := indexOf(out, id)

	switch op.Type {
	case store.OpCreate:
		if i >= 0 {
			return out
		}
		rec := op.Payload.Without(reconcile.KeyItems)
		rec.MarkPending()
		return append(out, rec)

	case store.OpUpdate:
		if i < 0 {
			return out
		}
		rec := out[i].Merge(op.Payload.Without(record.KeyID, record.KeyTenantID, reconcile.KeyQuantityDelta))
		if delta, ok := op.Payload.Int64(reconcile.KeyQuantityDelta); ok && !op.Done(reconcile.StepStock) {
			rec = withQuantity(rec, delta, true)
		}
		rec.MarkPending()
		out[i] = rec

	case store.OpDelete:
		if i >= 0 {
			out = append(out[:i], out[i+1:]...)
		}
	}
	return out
}
