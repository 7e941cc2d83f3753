package sqlbackend

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/MarquesJr132/stock-system/internal/record"
)

type kind int

const (
	kindText kind = iota
	kindInt
	kindDecimal
)

type column struct {
	name string
	kind kind
}

func text(name string) column    { return column{name, kindText} }
func integer(name string) column { return column{name, kindInt} }
func money(name string) column   { return column{name, kindDecimal} }

// columns mirrors schema.sql. Only these identifiers are ever interpolated
// into SQL text.
var columns = map[record.Table][]column{
	record.CompanySettings: {
		text("id"), text("tenant_id"), text("company_name"), text("address"), text("phone"),
		text("email"), text("nuit"), text("logo_url"), text("currency"), text("updated_at"),
	},
	record.Products: {
		text("id"), text("tenant_id"), text("name"), text("description"), text("category"),
		text("sku"), text("unit"), money("purchase_price"), money("sale_price"),
		integer("quantity"), integer("min_stock"), text("supplier_id"),
		text("created_by"), text("created_at"), text("updated_at"),
	},
	record.Customers: {
		text("id"), text("tenant_id"), text("name"), text("email"), text("phone"),
		text("address"), text("nuit"), text("created_by"), text("created_at"), text("updated_at"),
	},
	record.Suppliers: {
		text("id"), text("tenant_id"), text("name"), text("email"), text("phone"),
		text("address"), text("contact_person"), text("created_by"), text("created_at"), text("updated_at"),
	},
	record.Sales: {
		text("id"), text("tenant_id"), text("customer_id"), money("total_amount"), money("discount"),
		text("payment_method"), text("status"), text("notes"), text("created_by"), text("created_at"),
	},
	record.SaleItems: {
		text("id"), text("tenant_id"), text("sale_id"), text("product_id"), integer("quantity"),
		money("unit_price"), money("subtotal"), text("created_at"),
	},
	record.Quotations: {
		text("id"), text("tenant_id"), text("customer_id"), money("total_amount"), money("discount"),
		text("status"), text("valid_until"), text("notes"), text("created_by"), text("created_at"),
	},
	record.QuotationItems: {
		text("id"), text("tenant_id"), text("quotation_id"), text("product_id"), integer("quantity"),
		money("unit_price"), money("subtotal"), text("created_at"),
	},
	record.SpecialOrders: {
		text("id"), text("tenant_id"), text("customer_id"), money("total_amount"), money("advance_payment"),
		text("status"), text("expected_delivery"), text("notes"), text("created_by"), text("created_at"),
	},
	record.SpecialOrderItems: {
		text("id"), text("tenant_id"), text("special_order_id"), text("product_name"), text("description"),
		integer("quantity"), money("unit_price"), money("subtotal"), text("created_at"),
	},
}

func lookupColumn(table record.Table, name string) (column, bool) {
	for _, c := range columns[table] {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

// toParam converts a record value into the driver value for c.
func (c column) toParam(rec record.Record) (any, error) {
	v := rec[c.name]
	if v == nil {
		return nil, nil
	}
	switch c.kind {
	case kindInt:
		n, ok := rec.Int64(c.name)
		if !ok {
			return nil, fmt.Errorf("column %s: %v is not an integer", c.name, v)
		}
		return n, nil
	case kindDecimal:
		d, ok := rec.Decimal(c.name)
		if !ok {
			return nil, fmt.Errorf("column %s: %v is not a number", c.name, v)
		}
		return d.String(), nil
	default:
		return rec.String(c.name), nil
	}
}

// fromScan converts a scanned driver value into its record form.
// Returns nil for SQL NULL.
func (c column) fromScan(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.kind {
	case kindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case []byte:
			return strconv.ParseInt(string(n), 10, 64)
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case kindDecimal:
		var d decimal.Decimal
		var err error
		switch n := v.(type) {
		case int64:
			d = decimal.NewFromInt(n)
		case float64:
			d = decimal.NewFromFloat(n)
		case []byte:
			d, err = decimal.NewFromString(string(n))
		case string:
			d, err = decimal.NewFromString(n)
		default:
			return nil, fmt.Errorf("column %s: unexpected %T", c.name, v)
		}
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.name, err)
		}
		return json.Number(d.StringFixed(2)), nil
	default:
		switch s := v.(type) {
		case []byte:
			return string(s), nil
		case string:
			return s, nil
		default:
			return fmt.Sprint(s), nil
		}
	}
	return nil, fmt.Errorf("column %s: unexpected %T", c.name, v)
}
