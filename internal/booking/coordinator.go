package booking

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-realtime-tables/internal/barapi"
	"github.com/ariefcatur/go-realtime-tables/internal/countdown"
	"github.com/ariefcatur/go-realtime-tables/internal/hold"
	"github.com/ariefcatur/go-realtime-tables/internal/metrics"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

// Submitter posts a booking and returns the payment redirect.
type Submitter interface {
	Book(ctx context.Context, path string, req barapi.BookingRequest) (string, error)
}

// Catalog resolves drink and menu prices.
type Catalog interface {
	Drinks(ctx context.Context) ([]tables.Drink, error)
	Menus(ctx context.Context) ([]tables.Menu, error)
}

// Selection is what the customer picked: quantities by drink id, or a menu id.
type Selection struct {
	Type           Type               `json:"type" validate:"omitempty,oneof=table drinks menu"`
	Note           string             `json:"note,omitempty"`
	NumberOfPeople int                `json:"numberOfPeople,omitempty" validate:"gte=0"`
	Drinks         []barapi.DrinkLine `json:"drinks,omitempty" validate:"dive"`
	MenuID         string             `json:"menuId,omitempty"`
}

type Receipt struct {
	Type        Type     `json:"type"`
	PaymentLink string   `json:"paymentLink"`
	TotalPrice  float64  `json:"totalPrice"`
	TableIDs    []string `json:"tableIds"`
}

type Coordinator struct {
	board   *hold.Board
	api     Submitter
	catalog Catalog
	barName string
	log     zerolog.Logger
}

func NewCoordinator(b *hold.Board, api Submitter, cat Catalog, barName string, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		board:   b,
		api:     api,
		catalog: cat,
		barName: barName,
		log:     log.With().Str("component", "booking").Logger(),
	}
}

// draftFor starts a draft from the tables who currently holds.
func (c *Coordinator) draftFor(who string, t Type) Draft {
	slot := c.board.Slot()
	return Draft{
		Type:           t,
		Identity:       who,
		BookingDate:    slot.DateParam(),
		BookingTime:    slot.TimeParam(),
		Tables:         c.board.HeldBy(who),
		NumberOfPeople: DefaultPeople,
	}
}

// Proceed moves to the next step: it suspends the countdowns and returns
// them with the draft. Nothing is suspended when no table is held. Calling
// it again before Resume returns the same paused tables.
func (c *Coordinator) Proceed(who string, t Type, now time.Time) (Handoff, error) {
	t, err := ParseType(string(t))
	if err != nil {
		return Handoff{}, err
	}
	d := c.draftFor(who, t)
	if len(d.Tables) == 0 {
		return Handoff{}, ErrNoTableSelected
	}
	cd := c.board.Countdowns()
	snap := cd.Suspend(now)
	for _, tb := range d.Tables {
		// a hold always leaves with a countdown, or it never expires
		if _, ok := snap.Countdowns[tb.ID]; !ok {
			snap.Countdowns[tb.ID] = cd.Hold()
		}
	}
	c.log.Info().Str("who", who).Str("type", string(t)).Int("tables", len(d.Tables)).Msg("proceed to booking step")
	return Handoff{Draft: d, Snapshot: snap}, nil
}

// Resume re-arms the handed-off countdowns at now. Tables that ran out in
// between are expired through the board and removed from the draft.
func (c *Coordinator) Resume(who string, h Handoff, now time.Time) (Draft, []string, error) {
	if h.Draft.Identity != "" && h.Draft.Identity != who {
		return Draft{}, nil, ErrForeignHandoff
	}
	held := make(map[string]bool)
	for _, t := range c.board.HeldBy(who) {
		held[t.ID] = true
	}
	_, expired := c.board.Countdowns().Resume(c.boundSnapshot(h.Snapshot, held, now), now)

	d := h.Draft
	d.Identity = who
	kept := d.Tables[:0:0]
	for _, t := range d.Tables {
		if held[t.ID] && !slices.Contains(expired, t.ID) {
			kept = append(kept, t)
		}
	}
	d.Tables = kept
	if len(expired) > 0 {
		c.log.Info().Strs("expired", expired).Msg("tables expired during handoff")
	}
	if len(d.Tables) == 0 {
		return d, expired, ErrNoTableSelected
	}
	return d, expired, nil
}

// boundSnapshot limits a caller-supplied snapshot to tables held locally.
// Each table gets the least time left of what the caller sent and what was
// paused here, and never more than one hold.
func (c *Coordinator) boundSnapshot(in countdown.Snapshot, held map[string]bool, now time.Time) countdown.Snapshot {
	cd := c.board.Countdowns()
	paused := cd.Suspended()
	out := make(map[string]int, len(held))
	for id := range held {
		rem, ok := in.Remaining(id, now)
		if p, known := paused.Remaining(id, now); known && (!ok || p < rem) {
			rem, ok = p, true
		}
		if ok {
			out[id] = min(rem, cd.Hold())
		}
	}
	return countdown.NewSnapshot(out, now)
}

// Price resolves a selection against the catalog into a draft for who.
func (c *Coordinator) Price(ctx context.Context, who string, sel Selection) (Draft, error) {
	if err := tables.Validate(sel); err != nil {
		if tables.FailedFields(err)["Type"] {
			return Draft{}, fmt.Errorf("%w: %q", ErrUnknownBookingType, sel.Type)
		}
		return Draft{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	t, err := ParseType(string(sel.Type))
	if err != nil {
		return Draft{}, err
	}
	d := c.draftFor(who, t)
	d.Note = sel.Note
	if sel.NumberOfPeople > 0 {
		d.NumberOfPeople = sel.NumberOfPeople
	}
	if len(d.Tables) == 0 {
		return d, ErrNoTableSelected
	}

	switch t {
	case TypeDrinks:
		drinks, err := c.catalog.Drinks(ctx)
		if err != nil {
			return d, fmt.Errorf("load drinks: %w", err)
		}
		byID := make(map[string]tables.Drink, len(drinks))
		for _, dr := range drinks {
			byID[dr.ID] = dr
		}
		for _, l := range sel.Drinks {
			if l.Quantity <= 0 {
				continue
			}
			dr, ok := byID[l.DrinkID]
			if !ok {
				return d, fmt.Errorf("%w: drink %s", ErrUnknownItem, l.DrinkID)
			}
			d.Drinks = append(d.Drinks, DrinkItem{DrinkID: dr.ID, Name: dr.Name, Price: dr.Price, Quantity: l.Quantity})
		}
	case TypeMenu:
		if sel.MenuID == "" {
			return d, ErrNoMenuSelected
		}
		menus, err := c.catalog.Menus(ctx)
		if err != nil {
			return d, fmt.Errorf("load menus: %w", err)
		}
		for i := range menus {
			if menus[i].ID == sel.MenuID {
				m := menus[i]
				d.Menu = &m
			}
		}
		if d.Menu == nil {
			return d, fmt.Errorf("%w: menu %s", ErrUnknownItem, sel.MenuID)
		}
	}
	return d, d.Validate()
}

// Submit sends the draft. On success the tables stop counting down and are
// handed to the server; on failure every hold is left as it was.
func (c *Coordinator) Submit(ctx context.Context, who string, d Draft) (Receipt, error) {
	d.Identity = who
	held := make(map[string]bool)
	for _, t := range c.board.HeldBy(who) {
		held[t.ID] = true
	}
	kept := d.Tables[:0:0]
	for _, t := range d.Tables {
		if held[t.ID] {
			kept = append(kept, t)
		}
	}
	d.Tables = kept
	if err := d.Validate(); err != nil {
		return Receipt{}, err
	}

	path, req := d.Request(c.barName)
	link, err := c.api.Book(ctx, path, req)
	if err != nil {
		metrics.IncBookingSubmitted(string(d.Type), "failed")
		c.log.Error().Err(err).Str("who", who).Str("type", string(d.Type)).Msg("booking submit failed")
		return Receipt{}, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if link == "" {
		metrics.IncBookingSubmitted(string(d.Type), "no_link")
		return Receipt{}, ErrNoPaymentLink
	}

	c.board.Converted(req.TableIDs)
	metrics.IncBookingSubmitted(string(d.Type), "ok")
	c.log.Info().Str("who", who).Str("type", string(d.Type)).Strs("tables", req.TableIDs).Msg("booking submitted")
	return Receipt{Type: d.Type, PaymentLink: link, TotalPrice: req.TotalPrice, TableIDs: req.TableIDs}, nil
}

// Book prices and submits a selection in one step.
func (c *Coordinator) Book(ctx context.Context, who string, sel Selection) (Receipt, error) {
	d, err := c.Price(ctx, who, sel)
	if err != nil {
		return Receipt{}, err
	}
	return c.Submit(ctx, who, d)
}
