package booking

import (
	"fmt"

	"github.com/ariefcatur/go-realtime-tables/internal/barapi"
	"github.com/ariefcatur/go-realtime-tables/internal/countdown"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

type Type string

const (
	TypeTableOnly Type = "table"
	TypeDrinks    Type = "drinks"
	TypeMenu      Type = "menu"
)

func ParseType(v string) (Type, error) {
	switch t := Type(v); t {
	case TypeTableOnly, TypeDrinks, TypeMenu:
		return t, nil
	case "":
		return TypeTableOnly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBookingType, v)
}

const (
	DefaultPeople     = 4
	noteDrinksDefault = "Booking with drinks"
	noteMenuDefault   = "Booking with menu"
)

// DrinkItem is a priced drink line.
type DrinkItem struct {
	DrinkID  string  `json:"drinkId"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Draft aggregates the tables held by one identity with the slot and the
// optional drinks or menu, up to the moment it is submitted.
type Draft struct {
	Type           Type           `json:"type" validate:"oneof=table drinks menu"`
	Identity       string         `json:"identity"`
	BookingDate    string         `json:"bookingDate"`
	BookingTime    string         `json:"bookingTime"`
	Tables         []tables.Table `json:"tables" validate:"min=1"`
	Drinks         []DrinkItem    `json:"drinks,omitempty"`
	Menu           *tables.Menu   `json:"menu,omitempty" validate:"required_if=Type menu"`
	Note           string         `json:"note,omitempty"`
	NumberOfPeople int            `json:"numberOfPeople"`
}

func (d Draft) TableIDs() []string {
	ids := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		ids[i] = t.ID
	}
	return ids
}

func (d Draft) DepositTotal() float64 {
	var sum float64
	for _, t := range d.Tables {
		sum += t.Type.DepositAmount
	}
	return sum
}

// DrinkLines drops lines with a zero quantity.
func (d Draft) DrinkLines() []DrinkItem {
	var out []DrinkItem
	for _, l := range d.Drinks {
		if l.Quantity > 0 {
			out = append(out, l)
		}
	}
	return out
}

func (d Draft) DrinksTotal() float64 {
	var sum float64
	for _, l := range d.DrinkLines() {
		sum += l.Price * float64(l.Quantity)
	}
	return sum
}

// Total is the display price; the backend recomputes it.
func (d Draft) Total() float64 {
	switch d.Type {
	case TypeDrinks:
		return d.DrinksTotal()
	case TypeMenu:
		if d.Menu != nil {
			return d.Menu.Price
		}
		return 0
	}
	return d.DepositTotal()
}

// Validate checks the draft in the order a user would be told about it.
func (d Draft) Validate() error {
	if err := tables.Validate(d); err != nil {
		failed := tables.FailedFields(err)
		switch {
		case failed["Tables"]:
			return ErrNoTableSelected
		case failed["Type"]:
			return fmt.Errorf("%w: %q", ErrUnknownBookingType, d.Type)
		case failed["Menu"]:
			return ErrNoMenuSelected
		}
		return fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	if d.Type == TypeDrinks && len(d.DrinkLines()) == 0 {
		return ErrNoDrinkSelected
	}
	return nil
}

// Request builds the body and endpoint path for the draft's type.
func (d Draft) Request(barName string) (string, barapi.BookingRequest) {
	people := d.NumberOfPeople
	if people <= 0 {
		people = DefaultPeople
	}
	req := barapi.BookingRequest{
		BarName:        barName,
		BookingDate:    d.BookingDate,
		BookingTime:    d.BookingTime,
		Note:           d.Note,
		TotalPrice:     d.Total(),
		NumberOfPeople: people,
		TableIDs:       d.TableIDs(),
	}
	switch d.Type {
	case TypeDrinks:
		if req.Note == "" {
			req.Note = noteDrinksDefault
		}
		for _, l := range d.DrinkLines() {
			req.Drinks = append(req.Drinks, barapi.DrinkLine{DrinkID: l.DrinkID, Quantity: l.Quantity})
		}
		return barapi.PathBookDrinks, req
	case TypeMenu:
		if req.Note == "" {
			req.Note = noteMenuDefault
		}
		if d.Menu != nil {
			req.MenuID = d.Menu.ID
		}
		return barapi.PathBookMenu, req
	}
	return barapi.PathBookTableOnly, req
}

// Handoff carries a draft and its countdowns from the floor plan to the
// drinks or menu step.
type Handoff struct {
	Draft    Draft              `json:"draft"`
	Snapshot countdown.Snapshot `json:"snapshot"`
}
