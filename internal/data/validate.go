package data

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MarquesJr132/stock-system/internal/record"
)

type ruleKind int

const (
	ruleText ruleKind = iota
	ruleMoney
	ruleCount
	rulePositive
)

type rule struct {
	field string
	kind  ruleKind
	tag   string
}

// tableRules lists the business invariants checked before any write, online
// or offline. Text tags are validator/v10 tags; "required" on a numeric rule
// means the field must be present.
var tableRules = map[record.Table][]rule{
	record.Products: {
		{"name", ruleText, "required,max=255"},
		{"purchase_price", ruleMoney, ""},
		{"sale_price", ruleMoney, ""},
		{"quantity", ruleCount, ""},
		{"min_stock", ruleCount, ""},
	},
	record.Customers: {
		{"name", ruleText, "required,max=255"},
		{"email", ruleText, "omitempty,email"},
	},
	record.Suppliers: {
		{"name", ruleText, "required,max=255"},
		{"email", ruleText, "omitempty,email"},
	},
	record.CompanySettings: {
		{"company_name", ruleText, "omitempty,max=255"},
		{"email", ruleText, "omitempty,email"},
	},
	record.Sales: {
		{"discount", ruleMoney, ""},
	},
	record.Quotations: {
		{"discount", ruleMoney, ""},
	},
	record.SpecialOrders: {
		{"advance_payment", ruleMoney, ""},
	},
	record.SaleItems: {
		{"product_id", ruleText, "required"},
		{"quantity", rulePositive, "required"},
		{"unit_price", ruleMoney, "required"},
	},
	record.QuotationItems: {
		{"quantity", rulePositive, "required"},
		{"unit_price", ruleMoney, "required"},
	},
	record.SpecialOrderItems: {
		{"product_name", ruleText, "required,max=255"},
		{"quantity", rulePositive, "required"},
		{"unit_price", ruleMoney, "required"},
	},
}

func newValidator() *validator.Validate {
	return validator.New()
}

// validateRecord checks rec against table's rules. With partial set only
// the fields present in rec are checked.
func (s *Service) validateRecord(table record.Table, rec record.Record, partial bool) error {
	for _, r := range tableRules[table] {
		if !rec.Has(r.field) || rec[r.field] == nil {
			if partial && !rec.Has(r.field) {
				continue
			}
			if strings.Contains(r.tag, "required") {
				return &ValidationError{Table: table, Field: r.field, Reason: "is required"}
			}
			continue
		}

		switch r.kind {
		case ruleText:
			if err := s.validate.Var(rec.String(r.field), r.tag); err != nil {
				return &ValidationError{Table: table, Field: r.field, Reason: reason(err)}
			}
		case ruleMoney:
			d, ok := rec.Decimal(r.field)
			if !ok {
				return &ValidationError{Table: table, Field: r.field, Reason: "must be a number"}
			}
			if d.IsNegative() {
				return &ValidationError{Table: table, Field: r.field, Reason: "must not be negative"}
			}
		case ruleCount, rulePositive:
			n, ok := rec.Int64(r.field)
			if !ok {
				return &ValidationError{Table: table, Field: r.field, Reason: "must be an integer"}
			}
			if n < 0 || (r.kind == rulePositive && n == 0) {
				return &ValidationError{Table: table, Field: r.field, Reason: "must be positive"}
			}
		}
	}
	return nil
}

func reason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "failed " + verrs[0].Tag()
	}
	return err.Error()
}
