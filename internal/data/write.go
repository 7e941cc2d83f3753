package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/store"
)

// effectFunc applies a write to the local snapshots and returns the record
// handed back to the caller. confirmed is the backend's result for online
// writes and nil for optimistic ones.
type effectFunc func(tx *localTx, confirmed record.Record) record.Record

// tablesWithCreator carry a created_by column.
var tablesWithCreator = map[record.Table]bool{
	record.Products:      true,
	record.Customers:     true,
	record.Suppliers:     true,
	record.Sales:         true,
	record.Quotations:    true,
	record.SpecialOrders: true,
}

// Create inserts rec into table. Header tables with line items are created
// through CreateSale, CreateQuotation and CreateSpecialOrder.
func (s *Service) Create(ctx context.Context, table record.Table, rec record.Record) (WriteResult, error) {
	if !table.Known() {
		return WriteResult{}, &ValidationError{Table: table, Field: "table", Reason: "unknown table"}
	}
	if _, ok := record.ItemTables[table]; ok {
		return s.createAggregate(ctx, table, rec)
	}

	row := s.prepareNew(table, rec)
	if err := s.validateRecord(table, row, false); err != nil {
		return WriteResult{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	op := store.Operation{Type: store.OpCreate, Table: table, Payload: row, TenantID: s.identity.TenantID}
	return s.execute(ctx, op, referencesTemp(row), func(tx *localTx, confirmed record.Record) record.Record {
		out := row.Clone()
		if confirmed != nil {
			out = out.Merge(confirmed)
			out[record.KeyID] = record.ConfirmedID(row.ID())
			delete(out, record.KeyProvenance)
		} else {
			out.MarkPending()
		}
		tx.put(table, out)
		return out.Clone()
	})
}

// Update applies fields to the record with id. For products, a "quantity"
// field is turned into a signed change against the cached stock so that
// concurrent adjustments on other devices are preserved.
func (s *Service) Update(ctx context.Context, table record.Table, id string, fields record.Record) (WriteResult, error) {
	if !table.Known() {
		return WriteResult{}, &ValidationError{Table: table, Field: "table", Reason: "unknown table"}
	}
	if id == "" {
		return WriteResult{}, &ValidationError{Table: table, Field: record.KeyID, Reason: "is required"}
	}

	changes := fields.Without(record.KeyID, record.KeyTenantID, record.KeyProvenance, reconcile.KeyItems, reconcile.KeyQuantityDelta)
	changes.Normalize()
	if err := s.validateRecord(table, changes, true); err != nil {
		return WriteResult{}, err
	}
	if table == record.CompanySettings {
		changes["updated_at"] = s.now().UTC().Format(time.RFC3339Nano)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, cached := s.lookup(ctx, table, id)

	if table == record.Products && changes.Has(record.KeyQuantity) {
		if !cached {
			return WriteResult{}, &ValidationError{Table: table, Field: record.KeyQuantity, Reason: "current stock unknown"}
		}
		want, _ := changes.Int64(record.KeyQuantity)
		have, _ := current.Int64(record.KeyQuantity)
		delete(changes, record.KeyQuantity)
		if want != have {
			changes[reconcile.KeyQuantityDelta] = want - have
		}
	}
	if len(changes) == 0 {
		if cached {
			return WriteResult{Record: current, Pending: current.Pending()}, nil
		}
		return WriteResult{Record: record.Record{record.KeyID: id}}, nil
	}

	payload := changes.Clone()
	payload[record.KeyID] = id
	if table == record.CompanySettings {
		payload[record.KeyTenantID] = s.identity.TenantID
	}

	op := store.Operation{Type: store.OpUpdate, Table: table, Payload: payload, TenantID: s.identity.TenantID}
	queue := record.IsTempID(id) || referencesTemp(changes) || (cached && current.Pending())
	return s.execute(ctx, op, queue, updateEffect(table, id, changes))
}

func updateEffect(table record.Table, id string, changes record.Record) effectFunc {
	return func(tx *localTx, confirmed record.Record) record.Record {
		base := tx.find(table, id)
		if base == nil {
			// Nothing cached to change. Keep the backend's row if there is one.
			out := record.Record{record.KeyID: id}.Merge(changes.Without(reconcile.KeyQuantityDelta))
			if len(confirmed) > 0 {
				out = out.Merge(confirmed.Without(record.KeyID))
				tx.put(table, out)
				return out.Clone()
			}
			if confirmed == nil {
				out.MarkPending()
			}
			return out
		}
		out := base.Merge(changes.Without(reconcile.KeyQuantityDelta))
		if confirmed != nil {
			out = out.Merge(confirmed.Without(record.KeyID))
			if _, ok := confirmed.Int64(record.KeyQuantity); !ok {
				if delta, ok := changes.Int64(reconcile.KeyQuantityDelta); ok {
					out = withQuantity(out, delta, false)
				}
			}
		} else {
			if delta, ok := changes.Int64(reconcile.KeyQuantityDelta); ok {
				out = withQuantity(out, delta, true)
			}
			out.MarkPending()
		}
		tx.put(table, out)
		return out.Clone()
	}
}

// Delete removes the record with id. Deleting a header also drops its cached
// line items. A record already missing on the backend counts as deleted.
func (s *Service) Delete(ctx context.Context, table record.Table, id string) (WriteResult, error) {
	if !table.Known() {
		return WriteResult{}, &ValidationError{Table: table, Field: "table", Reason: "unknown table"}
	}
	if id == "" {
		return WriteResult{}, &ValidationError{Table: table, Field: record.KeyID, Reason: "is required"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, cached := s.lookup(ctx, table, id)
	op := store.Operation{
		Type:     store.OpDelete,
		Table:    table,
		Payload:  record.Record{record.KeyID: id},
		TenantID: s.identity.TenantID,
	}
	queue := record.IsTempID(id) || (cached && current.Pending())
	return s.execute(ctx, op, queue, func(tx *localTx, _ record.Record) record.Record {
		want := record.ConfirmedID(id)
		tx.remove(table, func(r record.Record) bool {
			return record.ConfirmedID(r.ID()) == want
		})
		if itemTable, ok := record.ItemTables[table]; ok {
			parentKey := record.ParentKeys[itemTable]
			tx.remove(itemTable, func(r record.Record) bool {
				return record.ConfirmedID(r.String(parentKey)) == want
			})
		}
		return record.Record{record.KeyID: id}
	})
}

// AdjustStock changes a product's stock by delta. The change is refused
// when the cached stock says it would go below zero; online, the backend
// arbitrates atomically.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int64) (WriteResult, error) {
	if productID == "" {
		return WriteResult{}, &ValidationError{Table: record.Products, Field: record.KeyID, Reason: "is required"}
	}
	if delta == 0 {
		return WriteResult{}, &ValidationError{Table: record.Products, Field: reconcile.KeyQuantityDelta, Reason: "must not be zero"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// A withdrawal is only accepted against a known stock level.
	current, cached := s.lookup(ctx, record.Products, productID)
	if delta < 0 {
		var have int64
		if cached {
			have, _ = current.Int64(record.KeyQuantity)
		}
		if have+delta < 0 {
			return WriteResult{}, &StockError{ProductID: productID, Requested: -delta, Available: have}
		}
	}

	op := store.Operation{
		Type:     store.OpUpdate,
		Table:    record.Products,
		Payload:  record.Record{record.KeyID: productID, reconcile.KeyQuantityDelta: delta},
		TenantID: s.identity.TenantID,
	}
	queue := record.IsTempID(productID) || (cached && current.Pending())
	res, err := s.execute(ctx, op, queue, updateEffect(record.Products, productID, op.Payload.Without(record.KeyID)))
	if remote.IsInsufficientStock(err) {
		have, _ := current.Int64(record.KeyQuantity)
		return WriteResult{}, &StockError{ProductID: productID, Requested: -delta, Available: have}
	}
	return res, err
}

// lookup returns the cached record, fetching the table first when it is not
// cached and the backend is reachable. Callers hold writeMu.
func (s *Service) lookup(ctx context.Context, table record.Table, id string) (record.Record, bool) {
	if rec, ok := s.cachedRecord(ctx, table, id); ok {
		return rec, true
	}
	if !s.online() {
		return nil, false
	}
	res, err := s.Fetch(ctx, table)
	if err != nil || res.FromCache {
		return nil, false
	}
	if i := indexOf(res.Records, id); i >= 0 {
		return res.Records[i].Clone(), true
	}
	return nil, false
}

// execute runs op against the backend through its replay handler when
// online, and queues it with an optimistic local change otherwise. A
// transient failure after some steps succeeded queues the operation with
// those steps recorded. A definitive refusal undoes the completed steps and
// is returned; nothing is queued.
func (s *Service) execute(ctx context.Context, op store.Operation, queue bool, effect effectFunc) (WriteResult, error) {
	if s.online() && !queue {
		h, ok := s.registry.Lookup(op.Table)
		if !ok {
			return WriteResult{}, fmt.Errorf("%s: %w", op.Table, reconcile.ErrUnknownTable)
		}
		rp := reconcile.NewReplay(op, s.backend, reconcile.WithReplayLogger(s.logger))
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := h.Replay(rctx, rp)
		cancel()

		if err == nil {
			return s.applyConfirmed(ctx, rp.Result(), effect), nil
		}
		if !remote.IsTransient(err) {
			s.compensate(ctx, op, rp)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return WriteResult{}, ctxErr
			}
			return WriteResult{}, rejected(op.Table, string(op.Type), err)
		}

		s.logger.Info("backend unreachable, queueing write",
			zap.String("table", string(op.Table)),
			zap.String("type", string(op.Type)),
			zap.Strings("progress", rp.Progress()),
			zap.Error(err))
		op.Progress = rp.Progress()
	}
	return s.enqueue(ctx, op, effect)
}

// compensate undoes the completed steps of a refused write. It runs even if
// ctx was cancelled.
func (s *Service) compensate(ctx context.Context, op store.Operation, rp *reconcile.Replay) {
	if len(rp.Progress()) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := rp.Compensate(cctx); err != nil {
		s.logger.Error("failed to undo partial write",
			zap.String("table", string(op.Table)),
			zap.String("type", string(op.Type)),
			zap.Strings("progress", rp.Progress()),
			zap.Error(err))
	}
}

func (s *Service) applyConfirmed(ctx context.Context, confirmed record.Record, effect effectFunc) WriteResult {
	if confirmed == nil {
		confirmed = record.Record{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin(ctx)
	out := effect(tx, confirmed)
	if err := tx.commit(); err != nil {
		s.logger.Warn("failed to cache confirmed write", zap.Error(err))
	}
	return WriteResult{Record: out}
}

// enqueue applies the optimistic change and appends op to the log. If the
// append fails the snapshots are restored.
func (s *Service) enqueue(ctx context.Context, op store.Operation, effect effectFunc) (WriteResult, error) {
	if s.local == nil {
		return WriteResult{}, ErrLocalUnavailable
	}

	s.mu.Lock()
	tx := s.begin(ctx)
	out := effect(tx, nil)
	if tx.err != nil {
		s.mu.Unlock()
		return WriteResult{}, fmt.Errorf("apply local change: %w", tx.err)
	}
	if err := tx.commit(); err != nil {
		if rerr := tx.rollback(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		s.mu.Unlock()
		return WriteResult{}, fmt.Errorf("apply local change: %w", err)
	}

	_, err := s.local.Enqueue(ctx, store.NewOperation{
		Type:     op.Type,
		Table:    op.Table,
		Payload:  op.Payload,
		TenantID: op.TenantID,
		Progress: op.Progress,
	})
	if err != nil {
		if rerr := tx.rollback(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		s.mu.Unlock()
		return WriteResult{}, fmt.Errorf("queue operation: %w", err)
	}
	s.mu.Unlock()

	s.refreshPending(ctx)
	return WriteResult{Record: out, Pending: true}, nil
}

// prepareNew returns a normalized copy of rec with identity, tenant and
// audit fields filled in. Local-only keys supplied by the caller are dropped.
func (s *Service) prepareNew(table record.Table, rec record.Record) record.Record {
	row := rec.Clone()
	if row == nil {
		row = record.Record{}
	}
	for k := range row {
		if strings.HasPrefix(k, "_") {
			delete(row, k)
		}
	}
	row.Normalize()

	if row.ID() == "" {
		row[record.KeyID] = record.NewIDFor(table)
	}
	row[record.KeyTenantID] = s.identity.TenantID

	now := s.now().UTC().Format(time.RFC3339Nano)
	switch {
	case table == record.CompanySettings:
		row["updated_at"] = now
	case !row.Has(record.KeyCreatedAt):
		row[record.KeyCreatedAt] = now
	}
	if tablesWithCreator[table] && !row.Has(record.KeyCreatedBy) && s.identity.ActorID != "" {
		row[record.KeyCreatedBy] = s.identity.ActorID
	}
	if table == record.Products && !row.Has(record.KeyQuantity) {
		row[record.KeyQuantity] = int64(0)
	}
	return row
}

// referencesTemp reports whether any reference field (other than the
// record's own id) points at a record the backend has not confirmed yet.
func referencesTemp(rec record.Record) bool {
	for k, v := range rec {
		if k == record.KeyID || !strings.HasSuffix(k, "_id") {
			continue
		}
		if id, ok := v.(string); ok && record.IsTempID(id) {
			return true
		}
	}
	return false
}
