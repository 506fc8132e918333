package tables

import "fmt"

type Category string

const (
	CategoryBarCounter Category = "Bar Counter"
	CategoryLounge     Category = "Lounge Table"
	CategoryVIPBooth   Category = "VIP Booth"
	CategoryPartyBar   Category = "Party Bar"
)

var labelPrefix = map[Category]string{
	CategoryBarCounter: "BC",
	CategoryLounge:     "LB",
	CategoryVIPBooth:   "VIP",
	CategoryPartyBar:   "PB",
}

// Label returns the floor-plan label for the index-th seat of a category,
// e.g. BC-1 for the first bar counter seat.
func Label(c Category, index int) string {
	if p, ok := labelPrefix[c]; ok {
		return fmt.Sprintf("%s-%d", p, index+1)
	}
	return fmt.Sprintf("%d", index+1)
}

// TableType is read-only reference data served by the backend.
type TableType struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Capacity      int     `json:"capacity"`
	DepositAmount float64 `json:"depositAmount"`
	Description   string  `json:"description,omitempty"`
}

type Table struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Type   TableType `json:"tableType"`
	Status Status    `json:"status"`
}

func (t Table) Category() Category { return Category(t.Type.Name) }

// GroupByCategory partitions tables for layout. Order inside a group follows
// the input order; the grouping has no effect on hold semantics.
func GroupByCategory(ts []Table) map[Category][]Table {
	out := make(map[Category][]Table)
	for _, t := range ts {
		out[t.Category()] = append(out[t.Category()], t)
	}
	return out
}

type Drink struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type Menu struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
}
