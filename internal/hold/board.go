package hold

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-realtime-tables/internal/channel"
	"github.com/ariefcatur/go-realtime-tables/internal/countdown"
	"github.com/ariefcatur/go-realtime-tables/internal/metrics"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

// Channel is the part of the channel client the board talks to.
type Channel interface {
	Connected() bool
	Send(ctx context.Context, destination string, payload any) error
	Subscribe(topic string, h channel.Handler) (*channel.Subscription, error)
}

type entry struct {
	table   tables.Table
	owner   string
	version int64
}

// Board is the local view of every table in one slot. Only the board mutates
// the table cache; countdowns are delegated to a countdown.Manager.
type Board struct {
	ch   Channel
	cd   *countdown.Manager
	slot tables.Slot
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	tables  map[string]*entry
	order   []string
	mine    map[string]string // table id -> local identity holding it
	notices []Notice
}

// NewBoard watches slot; the zero Slot means the next bookable hour.
func NewBoard(ch Channel, cd *countdown.Manager, slot tables.Slot, log zerolog.Logger) *Board {
	if slot.IsZero() {
		slot = tables.DefaultSlot(time.Now())
	}
	b := &Board{
		ch:     ch,
		cd:     cd,
		slot:   slot,
		log:    log.With().Str("component", "hold").Str("slot", slot.String()).Logger(),
		now:    time.Now,
		tables: make(map[string]*entry),
		mine:   make(map[string]string),
	}
	cd.OnExpire(b.expire)
	return b
}

func (b *Board) Slot() tables.Slot { return b.slot }

func (b *Board) Countdowns() *countdown.Manager { return b.cd }

// Load replaces the cached tables with a fresh availability read. Known
// versions survive so older pushes stay rejected; local holds survive only
// where the table is still PENDING.
func (b *Board) Load(ts []tables.Table) {
	b.mu.Lock()
	next := make(map[string]*entry, len(ts))
	order := make([]string, 0, len(ts))
	var lost []Notice
	for _, t := range ts {
		if !t.Status.Valid() {
			b.log.Warn().Str("table", t.ID).Str("status", string(t.Status)).Msg("skip table with unknown status")
			continue
		}
		e := &entry{table: t}
		if old, ok := b.tables[t.ID]; ok {
			e.version = old.version
			if t.Status == tables.StatusPending {
				e.owner = old.owner
			}
		}
		next[t.ID] = e
		order = append(order, t.ID)
	}
	for id, who := range b.mine {
		e, ok := next[id]
		if ok && e.table.Status == tables.StatusPending {
			e.owner = who
			continue
		}
		delete(b.mine, id)
		name := id
		if ok {
			name = e.table.Name
		}
		lost = append(lost, lostNotice(id, name, b.now()))
	}
	b.tables, b.order = next, order
	b.notices = append(b.notices, lost...)
	for _, n := range lost {
		b.cd.Cancel(n.TableID)
	}
	b.mu.Unlock()

	for range lost {
		metrics.IncHoldLost()
	}
}

// Watch subscribes the board to table-status pushes and asks the server for
// the current statuses of the slot.
func (b *Board) Watch(ctx context.Context) (*channel.Subscription, error) {
	sub, err := b.ch.Subscribe(tables.TopicBarTables, b.HandleEnvelope)
	if err != nil {
		return nil, err
	}
	b.RequestView(ctx)
	return sub, nil
}

// RequestView asks the server to republish every status of the slot.
func (b *Board) RequestView(ctx context.Context) {
	_ = b.ch.Send(ctx, tables.DestStatusView, tables.StatusViewRequest{
		RequestID:   uuid.NewString(),
		BookingDate: b.slot.DateParam(),
		BookingTime: b.slot.TimeParam(),
	})
}

// ToggleHold flips a table between EMPTY and PENDING for who. The local view
// changes before the server hears about it. Countdowns are started and
// cancelled under the board lock, so a hold in mine always has one running.
func (b *Board) ToggleHold(ctx context.Context, who, tableID string) (tables.Status, error) {
	if who == "" {
		return "", ErrNoIdentity
	}
	if !b.ch.Connected() {
		return "", ErrChannelUnavailable
	}

	b.mu.Lock()
	e, ok := b.tables[tableID]
	if !ok {
		b.mu.Unlock()
		return "", ErrUnknownTable
	}
	cur := e.table.Status
	if cur == tables.StatusPending && b.mine[tableID] != who {
		b.mu.Unlock()
		return cur, ErrHeldByOther
	}
	next := cur.Toggled()
	if !tables.CanToggle(cur, next) {
		b.mu.Unlock()
		return cur, ErrNotToggleable
	}
	e.table.Status = next
	if next == tables.StatusPending {
		e.owner = who
		b.mine[tableID] = who
		b.cd.Start(tableID)
	} else {
		e.owner = ""
		delete(b.mine, tableID)
		b.cd.Cancel(tableID)
	}
	name := e.table.Name
	b.mu.Unlock()

	if next == tables.StatusPending {
		metrics.IncHoldPlaced()
	} else {
		metrics.IncHoldReleased()
	}
	b.log.Info().Str("table", name).Str("status", string(next)).Str("who", who).Msg("toggle hold")
	b.send(ctx, tableID, next, who)
	return next, nil
}

func (b *Board) send(ctx context.Context, tableID string, st tables.Status, who string) {
	err := b.ch.Send(ctx, tables.DestStatusUpdate, tables.StatusUpdateRequest{
		RequestID:   uuid.NewString(),
		BarTableID:  tableID,
		BookingDate: b.slot.DateParam(),
		BookingTime: b.slot.TimeParam(),
		Status:      st,
		UserEmail:   who,
	})
	if err != nil {
		// the local state stands; the next push or expiry converges it
		b.log.Warn().Err(err).Str("table", tableID).Msg("status update not sent")
	}
}

// HandleEnvelope is the channel handler for the bar-tables topic.
func (b *Board) HandleEnvelope(env tables.Envelope) {
	u, err := tables.DecodeUpdate(env)
	if errors.Is(err, tables.ErrIgnored) {
		b.log.Debug().Int("code", env.Code).Msg("ignore message")
		return
	}
	if err != nil {
		b.log.Error().Err(err).Msg("drop undecodable message")
		return
	}
	b.Reconcile(u)
}

// Result reports what a Reconcile did, per table id.
type Result struct {
	Applied []string
	Stale   []string
	Lost    []string
}

// Reconcile overwrites cached statuses with the server's. A change whose
// version is older than the cached one is rejected. A local hold survives
// only a PENDING change that does not name another owner.
func (b *Board) Reconcile(u tables.Update) Result {
	var res Result
	if !b.slot.Matches(u.Date, u.Time) {
		b.log.Debug().Str("date", u.Date).Str("time", u.Time).Msg("update for another slot")
		return res
	}

	b.mu.Lock()
	var lost []Notice
	for _, c := range u.Changes {
		e, ok := b.tables[c.TableID]
		if !ok {
			continue
		}
		if c.Version != 0 && c.Version < e.version {
			res.Stale = append(res.Stale, c.TableID)
			b.log.Warn().Str("table", e.table.Name).Int64("version", c.Version).Int64("cached", e.version).Msg("stale update rejected")
			continue
		}
		if c.Version > e.version {
			e.version = c.Version
		}
		e.table.Status = c.Status
		if c.Status == tables.StatusPending {
			if c.Owner != "" {
				e.owner = c.Owner
			}
		} else {
			e.owner = ""
		}
		if holder, ok := b.mine[c.TableID]; ok {
			keep := c.Status == tables.StatusPending && (c.Owner == "" || c.Owner == holder)
			if !keep {
				delete(b.mine, c.TableID)
				b.cd.Cancel(c.TableID)
				res.Lost = append(res.Lost, c.TableID)
				lost = append(lost, lostNotice(c.TableID, e.table.Name, b.now()))
			}
		}
		res.Applied = append(res.Applied, c.TableID)
	}
	b.notices = append(b.notices, lost...)
	b.mu.Unlock()

	for range res.Stale {
		metrics.IncStaleReconcile()
	}
	for _, id := range res.Lost {
		metrics.IncHoldLost()
		b.log.Info().Str("table", id).Str("booking", u.BookingCode).Msg("local hold lost")
	}
	return res
}

// expire runs when a countdown hits zero: the table goes back to EMPTY
// locally and exactly one EMPTY update is sent for it.
func (b *Board) expire(tableID string) {
	b.mu.Lock()
	who, ok := b.mine[tableID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.mine, tableID)
	name := tableID
	if e, ok := b.tables[tableID]; ok {
		name = e.table.Name
		if e.table.Status == tables.StatusPending {
			e.table.Status = tables.StatusEmpty
			e.owner = ""
		}
	}
	b.notices = append(b.notices, expiredNotice(tableID, name, b.now()))
	b.mu.Unlock()

	metrics.IncHoldExpired()
	b.log.Info().Str("table", name).Str("who", who).Msg("hold expired")
	b.send(context.Background(), tableID, tables.StatusEmpty, who)
}

// Converted hands tables over to a submitted booking: their countdowns stop
// and they are no longer tracked as local holds.
func (b *Board) Converted(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.mine, id)
		b.cd.Cancel(id)
	}
}

// HeldBy returns the tables that are PENDING and held locally by who, in
// board order.
func (b *Board) HeldBy(who string) []tables.Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []tables.Table
	for _, id := range b.order {
		e := b.tables[id]
		if e.table.Status == tables.StatusPending && b.mine[id] == who && who != "" {
			out = append(out, e.table)
		}
	}
	return out
}

func (b *Board) Table(id string) (tables.Table, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.tables[id]
	if !ok {
		return tables.Table{}, false
	}
	return e.table, true
}

// Tables returns a copy of every cached table in board order.
func (b *Board) Tables() []tables.Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]tables.Table, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.tables[id].table)
	}
	return out
}

// TableView is one row of the floor plan as seen by a given identity.
type TableView struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Category         tables.Category `json:"category"`
	Capacity         int             `json:"capacity"`
	DepositAmount    float64         `json:"depositAmount"`
	Status           tables.Status   `json:"status"`
	HeldByMe         bool            `json:"heldByMe"`
	Interactive      bool            `json:"interactive"`
	RemainingSeconds int             `json:"remainingSeconds,omitempty"`
	Version          int64           `json:"version,omitempty"`
}

// View lists the board for who. An empty category means every table.
func (b *Board) View(who string, category tables.Category) []TableView {
	b.mu.Lock()
	rows := make([]TableView, 0, len(b.order))
	for _, id := range b.order {
		e := b.tables[id]
		if category != "" && e.table.Category() != category {
			continue
		}
		mine := who != "" && b.mine[id] == who && e.table.Status == tables.StatusPending
		rows = append(rows, TableView{
			ID:            id,
			Name:          e.table.Name,
			Category:      e.table.Category(),
			Capacity:      e.table.Type.Capacity,
			DepositAmount: e.table.Type.DepositAmount,
			Status:        e.table.Status,
			HeldByMe:      mine,
			Interactive:   e.table.Status.Interactive(),
			Version:       e.version,
		})
	}
	b.mu.Unlock()

	for i := range rows {
		if rows[i].HeldByMe {
			rows[i].RemainingSeconds, _ = b.cd.Remaining(rows[i].ID)
		}
	}
	return rows
}

// DrainNotices returns pending notices and clears them.
func (b *Board) DrainNotices() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}
