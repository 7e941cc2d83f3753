package record

import "fmt"

// Table identifies a business table on the remote collaborator and a
// snapshot key in the local store.
type Table string

const (
	Products          Table = "products"
	Customers         Table = "customers"
	Suppliers         Table = "suppliers"
	Sales             Table = "sales"
	SaleItems         Table = "sale_items"
	Quotations        Table = "quotations"
	QuotationItems    Table = "quotation_items"
	SpecialOrders     Table = "special_orders"
	SpecialOrderItems Table = "special_order_items"
	CompanySettings   Table = "company_settings"
)

// IdentityPolicy describes how a table's primary identifier is produced
// for records created while the remote side has not confirmed them.
type IdentityPolicy int

const (
	// ClientAssigned tables use the locally generated id as the final id.
	ClientAssigned IdentityPolicy = iota + 1
	// Temporary tables carry a temp_ prefixed id until the remote confirms.
	Temporary
)

// AllTables lists every table the client knows, in dependency order
// (parents before children).
var AllTables = []Table{
	CompanySettings,
	Products,
	Customers,
	Suppliers,
	Sales,
	SaleItems,
	Quotations,
	QuotationItems,
	SpecialOrders,
	SpecialOrderItems,
}

// ItemTables maps an aggregate header table to its child line-item table.
var ItemTables = map[Table]Table{
	Sales:         SaleItems,
	Quotations:    QuotationItems,
	SpecialOrders: SpecialOrderItems,
}

// ParentKeys maps a child line-item table to the column referencing its header.
var ParentKeys = map[Table]string{
	SaleItems:         "sale_id",
	QuotationItems:    "quotation_id",
	SpecialOrderItems: "special_order_id",
}

// Known reports whether t is one of AllTables.
func (t Table) Known() bool {
	for _, k := range AllTables {
		if k == t {
			return true
		}
	}
	return false
}

// Identity returns the identity policy for t.
func (t Table) Identity() IdentityPolicy {
	switch t {
	case Products, Customers, Suppliers:
		return Temporary
	default:
		return ClientAssigned
	}
}

// ParseTable converts a string into a known Table.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.Known() {
		return "", fmt.Errorf("unknown table %q", s)
	}
	return t, nil
}

func (t Table) String() string { return string(t) }
