package data

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/store"
)

// keyProductName is a display-only copy of the product name kept on cached
// line items. It never reaches the backend.
const keyProductName = "_product_name"

var defaultStatus = map[record.Table]string{
	record.Sales:         "completed",
	record.Quotations:    "pending",
	record.SpecialOrders: "pending",
}

// CreateSale records a sale with its line items and decrements stock for
// every item. The sale is refused when cached stock cannot cover it.
func (s *Service) CreateSale(ctx context.Context, sale record.Record, items []record.Record) (WriteResult, error) {
	return s.createAggregate(ctx, record.Sales, withItems(sale, items))
}

// CreateQuotation records a quotation with its line items. Stock is not
// touched.
func (s *Service) CreateQuotation(ctx context.Context, quotation record.Record, items []record.Record) (WriteResult, error) {
	return s.createAggregate(ctx, record.Quotations, withItems(quotation, items))
}

// CreateSpecialOrder records a special order with its line items. Items name
// goods that are not in the catalogue.
func (s *Service) CreateSpecialOrder(ctx context.Context, order record.Record, items []record.Record) (WriteResult, error) {
	return s.createAggregate(ctx, record.SpecialOrders, withItems(order, items))
}

func withItems(header record.Record, items []record.Record) record.Record {
	out := header.Clone()
	if out == nil {
		out = record.Record{}
	}
	out[reconcile.KeyItems] = items
	return out
}

func (s *Service) createAggregate(ctx context.Context, table record.Table, rec record.Record) (WriteResult, error) {
	itemTable := record.ItemTables[table]
	parentKey := record.ParentKeys[itemTable]

	rawItems := rec.Records(reconcile.KeyItems)
	if len(rawItems) == 0 {
		return WriteResult{}, &ValidationError{Table: table, Field: reconcile.KeyItems, Reason: "must not be empty"}
	}

	header := s.prepareNew(table, rec.Without(reconcile.KeyItems))
	if !header.Has("status") {
		header["status"] = defaultStatus[table]
	}
	if err := s.validateRecord(table, header, false); err != nil {
		return WriteResult{}, err
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	items := make([]record.Record, 0, len(rawItems))
	need := make(map[string]int64)
	var order []string
	sum := decimal.Zero
	for _, raw := range rawItems {
		item := raw.Clone()
		for k := range item {
			if strings.HasPrefix(k, "_") {
				delete(item, k)
			}
		}
		item.Normalize()
		if item.ID() == "" {
			item[record.KeyID] = record.NewIDFor(itemTable)
		}
		item[parentKey] = header.ID()
		item[record.KeyTenantID] = s.identity.TenantID
		if !item.Has(record.KeyCreatedAt) {
			item[record.KeyCreatedAt] = now
		}
		if err := s.validateRecord(itemTable, item, false); err != nil {
			return WriteResult{}, err
		}

		qty, _ := item.Int64(record.KeyQuantity)
		price, _ := item.Decimal("unit_price")
		subtotal := price.Mul(decimal.NewFromInt(qty)).Round(2)
		item["subtotal"] = record.Number(subtotal)
		sum = sum.Add(subtotal)

		if pid := item.String("product_id"); pid != "" {
			if _, seen := need[pid]; !seen {
				order = append(order, pid)
			}
			need[pid] += qty
		}
		items = append(items, item)
	}

	total := sum
	if discount, ok := header.Decimal("discount"); ok {
		total = total.Sub(discount)
	}
	if total.IsNegative() {
		return WriteResult{}, &ValidationError{Table: table, Field: "discount", Reason: "exceeds the items total"}
	}
	if advance, ok := header.Decimal("advance_payment"); ok && advance.GreaterThan(total) {
		return WriteResult{}, &ValidationError{Table: table, Field: "advance_payment", Reason: "exceeds the order total"}
	}
	header["total_amount"] = record.Number(total)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	queue := referencesTemp(header)
	names := make(map[string]string, len(order))
	for _, pid := range order {
		if record.IsTempID(pid) {
			queue = true
		}
		product, ok := s.lookup(ctx, record.Products, pid)
		if !ok {
			if table == record.Sales {
				return WriteResult{}, &ValidationError{Table: itemTable, Field: "product_id", Reason: "unknown product " + pid}
			}
			continue
		}
		names[pid] = product.String("name")
		if table != record.Sales {
			continue
		}
		have, _ := product.Int64(record.KeyQuantity)
		if have < need[pid] {
			return WriteResult{}, &StockError{ProductID: pid, Requested: need[pid], Available: have}
		}
	}

	for _, it := range items {
		if name := names[it.String("product_id")]; name != "" {
			it[keyProductName] = name
		}
	}

	payload := header.Clone()
	payload[reconcile.KeyItems] = items
	op := store.Operation{Type: store.OpCreate, Table: table, Payload: payload, TenantID: s.identity.TenantID}

	return s.execute(ctx, op, queue, func(tx *localTx, confirmed record.Record) record.Record {
		pending := confirmed == nil

		h := header.Clone()
		if pending {
			h.MarkPending()
		} else {
			h = h.Merge(confirmed.Without(reconcile.KeyItems))
		}
		tx.put(table, h)

		out := make([]record.Record, 0, len(items))
		for _, it := range items {
			c := it.Clone()
			if pending {
				c.MarkPending()
			}
			tx.put(itemTable, c)
			out = append(out, c.Clone())
		}

		if table == record.Sales {
			for _, pid := range order {
				if p := tx.find(record.Products, pid); p != nil {
					tx.put(record.Products, withQuantity(p, -need[pid], pending))
				}
			}
		}

		result := h.Clone()
		result[reconcile.KeyItems] = out
		return result
	})
}
