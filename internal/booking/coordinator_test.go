package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-tables/internal/barapi"
	"github.com/ariefcatur/go-realtime-tables/internal/channel"
	"github.com/ariefcatur/go-realtime-tables/internal/countdown"
	"github.com/ariefcatur/go-realtime-tables/internal/hold"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Book(ctx context.Context, path string, req barapi.BookingRequest) (string, error) {
	args := m.Called(ctx, path, req)
	return args.String(0), args.Error(1)
}

func (m *mockAPI) Drinks(ctx context.Context) ([]tables.Drink, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tables.Drink), args.Error(1)
}

func (m *mockAPI) Menus(ctx context.Context) ([]tables.Menu, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tables.Menu), args.Error(1)
}

type nopChannel struct {
	mu   sync.Mutex
	sent []tables.StatusUpdateRequest
}

func (n *nopChannel) Connected() bool { return true }

func (n *nopChannel) Send(_ context.Context, _ string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if r, ok := payload.(tables.StatusUpdateRequest); ok {
		n.sent = append(n.sent, r)
	}
	return nil
}

func (n *nopChannel) Subscribe(string, channel.Handler) (*channel.Subscription, error) {
	return nil, nil
}

const who = "a@x.io"

var ctx = context.Background()

func setup(t *testing.T) (*Coordinator, *hold.Board, *mockAPI, *nopChannel) {
	t.Helper()
	ch := &nopChannel{}
	cd := countdown.New(countdown.DefaultHold, time.Hour)
	t.Cleanup(cd.CancelAll)
	slot := tables.NewSlot(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), 19)
	b := hold.NewBoard(ch, cd, slot, zerolog.Nop())
	bc := tables.TableType{Name: string(tables.CategoryBarCounter), DepositAmount: 100000}
	vip := tables.TableType{Name: string(tables.CategoryVIPBooth), DepositAmount: 500000}
	b.Load([]tables.Table{
		{ID: "t1", Name: "BC-1", Type: bc, Status: tables.StatusEmpty},
		{ID: "t2", Name: "VIP-1", Type: vip, Status: tables.StatusEmpty},
	})
	api := &mockAPI{}
	return NewCoordinator(b, api, api, "Chill Shaker Bar", zerolog.Nop()), b, api, ch
}

func holdTables(t *testing.T, b *hold.Board, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := b.ToggleHold(ctx, who, id)
		require.NoError(t, err)
	}
}

func TestNoTableSelectedForEveryType(t *testing.T) {
	c, b, api, _ := setup(t)

	// a table held by someone else does not count
	b.Reconcile(tables.Update{Changes: []tables.Change{{TableID: "t1", Status: tables.StatusPending, Owner: "b@x.io"}}})

	for _, typ := range []Type{TypeTableOnly, TypeDrinks, TypeMenu} {
		t.Run(string(typ), func(t *testing.T) {
			_, err := c.Book(ctx, who, Selection{Type: typ, MenuID: "m1", Drinks: []barapi.DrinkLine{{DrinkID: "d1", Quantity: 1}}})
			assert.ErrorIs(t, err, ErrNoTableSelected)

			_, err = c.Submit(ctx, who, Draft{Type: typ})
			assert.ErrorIs(t, err, ErrNoTableSelected)

			_, err = c.Proceed(who, typ, time.Now())
			assert.ErrorIs(t, err, ErrNoTableSelected)
		})
	}
	api.AssertNotCalled(t, "Book", mock.Anything, mock.Anything, mock.Anything)
}

func TestTableOnlyBooking(t *testing.T) {
	c, b, api, _ := setup(t)
	holdTables(t, b, "t1", "t2")

	api.On("Book", ctx, barapi.PathBookTableOnly, barapi.BookingRequest{
		BarName: "Chill Shaker Bar", BookingDate: "2026-05-04", BookingTime: "19:00:00",
		Note: "window please", TotalPrice: 600000, NumberOfPeople: 4, TableIDs: []string{"t1", "t2"},
	}).Return("https://pay.example/1", nil).Once()

	r, err := c.Book(ctx, who, Selection{Type: TypeTableOnly, Note: "window please"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/1", r.PaymentLink)
	assert.Equal(t, 600000.0, r.TotalPrice)
	api.AssertExpectations(t)

	assert.Empty(t, b.Countdowns().Active())
	assert.Empty(t, b.HeldBy(who))
}

func TestDrinkBookingTotalsAndDropsZeroQuantity(t *testing.T) {
	c, b, api, _ := setup(t)
	holdTables(t, b, "t1")

	api.On("Drinks", ctx).Return([]tables.Drink{
		{ID: "d1", Name: "Mojito", Price: 90000},
		{ID: "d2", Name: "Negroni", Price: 120000},
		{ID: "d3", Name: "Water", Price: 10000},
	}, nil)

	var sent barapi.BookingRequest
	api.On("Book", ctx, barapi.PathBookDrinks, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).(barapi.BookingRequest) }).
		Return("https://pay.example/2", nil).Once()

	r, err := c.Book(ctx, who, Selection{Type: TypeDrinks, NumberOfPeople: 6, Drinks: []barapi.DrinkLine{
		{DrinkID: "d1", Quantity: 2},
		{DrinkID: "d2", Quantity: 1},
		{DrinkID: "d3", Quantity: 0},
	}})
	require.NoError(t, err)
	assert.Equal(t, 300000.0, r.TotalPrice)
	assert.Equal(t, []barapi.DrinkLine{{DrinkID: "d1", Quantity: 2}, {DrinkID: "d2", Quantity: 1}}, sent.Drinks)
	assert.Equal(t, "Booking with drinks", sent.Note)
	assert.Equal(t, 6, sent.NumberOfPeople)
	assert.Empty(t, sent.MenuID)
}

func TestDrinkAndMenuPreconditions(t *testing.T) {
	c, b, api, _ := setup(t)
	holdTables(t, b, "t1")
	api.On("Drinks", ctx).Return([]tables.Drink{{ID: "d1", Price: 1}}, nil)
	api.On("Menus", ctx).Return([]tables.Menu{{ID: "m1", Name: "Party Set", Price: 1500000}}, nil)

	_, err := c.Book(ctx, who, Selection{Type: TypeDrinks, Drinks: []barapi.DrinkLine{{DrinkID: "d1", Quantity: 0}}})
	assert.ErrorIs(t, err, ErrNoDrinkSelected)

	_, err = c.Book(ctx, who, Selection{Type: TypeDrinks, Drinks: []barapi.DrinkLine{{DrinkID: "zz", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrUnknownItem)

	_, err = c.Book(ctx, who, Selection{Type: TypeMenu})
	assert.ErrorIs(t, err, ErrNoMenuSelected)

	_, err = c.Book(ctx, who, Selection{Type: "brunch"})
	assert.ErrorIs(t, err, ErrUnknownBookingType)

	_, err = c.Book(ctx, who, Selection{Type: TypeDrinks, Drinks: []barapi.DrinkLine{{DrinkID: "d1", Quantity: -1}}})
	assert.ErrorIs(t, err, ErrInvalidSelection)
	_, err = c.Book(ctx, who, Selection{Type: TypeDrinks, Drinks: []barapi.DrinkLine{{Quantity: 1}}})
	assert.ErrorIs(t, err, ErrInvalidSelection)
	_, err = c.Book(ctx, who, Selection{Type: TypeTableOnly, NumberOfPeople: -2})
	assert.ErrorIs(t, err, ErrInvalidSelection)

	// a draft handed straight to Submit is checked the same way
	_, err = c.Submit(ctx, who, Draft{Type: TypeMenu, Tables: b.HeldBy(who)})
	assert.ErrorIs(t, err, ErrNoMenuSelected)
	_, err = c.Submit(ctx, who, Draft{Type: "brunch", Tables: b.HeldBy(who)})
	assert.ErrorIs(t, err, ErrUnknownBookingType)

	d, err := c.Price(ctx, who, Selection{Type: TypeMenu, MenuID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, 1500000.0, d.Total())
	path, req := d.Request("Chill Shaker Bar")
	assert.Equal(t, barapi.PathBookMenu, path)
	assert.Equal(t, "m1", req.MenuID)
	assert.Equal(t, "Booking with menu", req.Note)
	assert.Nil(t, req.Drinks)

	api.AssertNotCalled(t, "Book", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitFailureKeepsHolds(t *testing.T) {
	c, b, api, _ := setup(t)
	holdTables(t, b, "t1")

	api.On("Book", ctx, barapi.PathBookTableOnly, mock.Anything).Return("", errors.New("http 500")).Once()
	_, err := c.Book(ctx, who, Selection{Type: TypeTableOnly})
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Len(t, b.HeldBy(who), 1)
	assert.Equal(t, []string{"t1"}, b.Countdowns().Active())

	api.On("Book", ctx, barapi.PathBookTableOnly, mock.Anything).Return("", nil).Once()
	_, err = c.Book(ctx, who, Selection{Type: TypeTableOnly})
	assert.ErrorIs(t, err, ErrNoPaymentLink)
	assert.Len(t, b.HeldBy(who), 1)

	api.On("Book", ctx, barapi.PathBookTableOnly, mock.Anything).Return("https://pay.example/3", nil).Once()
	_, err = c.Book(ctx, who, Selection{Type: TypeTableOnly})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestHandoffAcrossStep(t *testing.T) {
	c, b, _, ch := setup(t)
	holdTables(t, b, "t1", "t2")
	cd := b.Countdowns()

	// t2 has almost run out when the customer moves on
	cd.StartWith("t2", 30)

	t0 := time.UnixMilli(1_700_000_000_000)
	h, err := c.Proceed(who, TypeDrinks, t0)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"t1": countdown.DefaultHold, "t2": 30}, h.Snapshot.Countdowns)
	assert.Empty(t, cd.Active())
	assert.Len(t, h.Draft.Tables, 2)

	d, expired, err := c.Resume(who, h, t0.Add(50*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, expired)
	require.Len(t, d.Tables, 1)
	assert.Equal(t, "t1", d.Tables[0].ID)

	rem, ok := cd.Remaining("t1")
	require.True(t, ok)
	assert.InDelta(t, countdown.DefaultHold-50, rem, 1)
	tb, _ := b.Table("t2")
	assert.Equal(t, tables.StatusEmpty, tb.Status)

	ch.mu.Lock()
	last := ch.sent[len(ch.sent)-1]
	ch.mu.Unlock()
	assert.Equal(t, "t2", last.BarTableID)
	assert.Equal(t, tables.StatusEmpty, last.Status)

	_, _, err = c.Resume("b@x.io", h, t0)
	assert.ErrorIs(t, err, ErrForeignHandoff)
}

func TestResumeAfterEverythingExpired(t *testing.T) {
	c, b, _, _ := setup(t)
	holdTables(t, b, "t1")

	t0 := time.UnixMilli(1_700_000_000_000)
	h, err := c.Proceed(who, TypeMenu, t0)
	require.NoError(t, err)

	_, expired, err := c.Resume(who, h, t0.Add(time.Duration(countdown.DefaultHold+1)*time.Second))
	assert.ErrorIs(t, err, ErrNoTableSelected)
	assert.Equal(t, []string{"t1"}, expired)
	assert.Empty(t, b.HeldBy(who))
}

func TestProceedTwiceKeepsCountdowns(t *testing.T) {
	c, b, _, ch := setup(t)
	holdTables(t, b, "t1")

	t0 := time.UnixMilli(1_700_000_000_000)
	_, err := c.Proceed(who, TypeTableOnly, t0)
	require.NoError(t, err)
	// double click on continue
	h2, err := c.Proceed(who, TypeTableOnly, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"t1": countdown.DefaultHold - 1}, h2.Snapshot.Countdowns)

	_, expired, err := c.Resume(who, h2, t0.Add(10*time.Minute))
	assert.ErrorIs(t, err, ErrNoTableSelected)
	assert.Equal(t, []string{"t1"}, expired)
	assert.Empty(t, b.HeldBy(who))

	ch.mu.Lock()
	last := ch.sent[len(ch.sent)-1]
	ch.mu.Unlock()
	assert.Equal(t, "t1", last.BarTableID)
	assert.Equal(t, tables.StatusEmpty, last.Status)
}

func TestResumeBoundsHandoff(t *testing.T) {
	c, b, _, _ := setup(t)
	holdTables(t, b, "t1")
	cd := b.Countdowns()

	t0 := time.UnixMilli(1_700_000_000_000)
	h, err := c.Proceed(who, TypeTableOnly, t0)
	require.NoError(t, err)

	// the caller stretches t1 and adds a table it never held
	h.Snapshot = countdown.NewSnapshot(map[string]int{"t1": 99999, "t2": 50}, t0.Add(time.Hour))
	d, expired, err := c.Resume(who, h, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, expired)
	require.Len(t, d.Tables, 1)
	assert.Equal(t, []string{"t1"}, cd.Active())

	rem, ok := cd.Remaining("t1")
	require.True(t, ok)
	assert.Equal(t, countdown.DefaultHold-10, rem)
	_, ok = cd.Remaining("t2")
	assert.False(t, ok)
}
