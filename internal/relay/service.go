package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-realtime-tables/internal/kafka"
	"github.com/ariefcatur/go-realtime-tables/internal/metrics"
	"github.com/ariefcatur/go-realtime-tables/internal/redisx"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

// Publisher fans a message out on a topic. *channel.Client satisfies it.
type Publisher interface {
	Send(ctx context.Context, destination string, payload any) error
}

var ErrBadRequest = errors.New("bad status request")

// Service is the server side of the table channel: it arbitrates holds with a
// redis lease, versions accepted changes in the store and publishes them.
type Service struct {
	Store       Store
	Redis       *redis.Client
	Out         Publisher
	HoldTTL     time.Duration
	ServiceName string
	Log         zerolog.Logger
}

// outbound keys a published envelope by table so one table's updates stay ordered.
type outbound struct {
	tables.Envelope
	tableID string
}

func (o outbound) PartitionKey() []byte { return tables.PartitionKey(o.tableID) }

// Handle dispatches one request body by the destination it arrived on.
// Malformed requests are dropped (nil) so a poison message is not redelivered.
func (s *Service) Handle(ctx context.Context, destination string, body []byte) error {
	var err error
	switch destination {
	case tables.DestStatusUpdate:
		err = s.handleUpdate(ctx, body)
	case tables.DestStatusView:
		err = s.handleView(ctx, body)
	default:
		return nil
	}
	if errors.Is(err, ErrBadRequest) {
		metrics.IncRelayRequest("invalid")
		s.Log.Warn().Err(err).Str("destination", destination).Msg("drop request")
		return nil
	}
	return err
}

// HandleKafka adapts Handle to a consumer group reading the request topics.
func (s *Service) HandleKafka(ctx context.Context, m kafkago.Message) error {
	switch m.Topic {
	case tables.BrokerName(tables.DestStatusUpdate):
		return s.Handle(ctx, tables.DestStatusUpdate, m.Value)
	case tables.BrokerName(tables.DestStatusView):
		return s.Handle(ctx, tables.DestStatusView, m.Value)
	}
	return nil
}

func (s *Service) handleUpdate(ctx context.Context, body []byte) error {
	req, err := kafkax.UnwrapPayload[tables.StatusUpdateRequest](body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := tables.Validate(req); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	slot, err := tables.ParseSlot(req.BookingDate, req.BookingTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	if req.RequestID != "" {
		dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, req.RequestID)
		first, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			return err
		}
		if !first {
			metrics.IncRelayRequest("duplicate")
			return nil
		}
	}

	date, clock := slot.DateParam(), slot.TimeParam()
	cur, known, err := s.Store.Get(ctx, date, clock, req.BarTableID)
	if err != nil {
		return err
	}
	if known && (cur.Status == tables.StatusServing || cur.Status == tables.StatusReserved) {
		return s.reject(ctx, cur, req)
	}

	leaseKey := fmt.Sprintf(redisx.KeyHoldLease, date, clock, req.BarTableID)
	next := tables.TableStatusData{ID: req.BarTableID, Status: req.Status, BookingDate: date, BookingTime: clock}
	if req.Status == tables.StatusPending {
		ok, owner, err := redisx.AcquireLease(ctx, s.Redis, leaseKey, req.UserEmail, s.HoldTTL)
		if err != nil {
			return err
		}
		if !ok {
			return s.reject(ctx, heldBy(cur, next, owner), req)
		}
		next.UserEmail = req.UserEmail
	} else {
		released, err := redisx.ReleaseLease(ctx, s.Redis, leaseKey, req.UserEmail)
		if err != nil {
			return err
		}
		if !released {
			owner, err := redisx.LeaseOwner(ctx, s.Redis, leaseKey)
			if err != nil {
				return err
			}
			if owner != "" {
				return s.reject(ctx, heldBy(cur, next, owner), req)
			}
		}
	}

	saved, err := s.Store.Put(ctx, next)
	if err != nil {
		return err
	}
	metrics.IncRelayRequest("accepted")
	s.Log.Info().Str("table", saved.ID).Str("status", string(saved.Status)).Int64("version", saved.Version).Str("who", req.UserEmail).Msg("status accepted")
	return s.publish(ctx, saved)
}

// heldBy is the state to announce when owner keeps the lease. The stored
// version is kept so clients do not treat it as a newer change.
func heldBy(cur, next tables.TableStatusData, owner string) tables.TableStatusData {
	return tables.TableStatusData{
		ID:          next.ID,
		Status:      tables.StatusPending,
		UserEmail:   owner,
		Version:     cur.Version,
		BookingDate: next.BookingDate,
		BookingTime: next.BookingTime,
	}
}

// reject republishes the current state so the requester converges on it.
func (s *Service) reject(ctx context.Context, cur tables.TableStatusData, req tables.StatusUpdateRequest) error {
	metrics.IncRelayRequest("conflict")
	s.Log.Info().Str("table", req.BarTableID).Str("current", string(cur.Status)).Str("who", req.UserEmail).Msg("status request rejected")
	return s.publish(ctx, cur)
}

func (s *Service) handleView(ctx context.Context, body []byte) error {
	req, err := kafkax.UnwrapPayload[tables.StatusViewRequest](body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := tables.Validate(req); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	slot, err := tables.ParseSlot(req.BookingDate, req.BookingTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	list, err := s.Store.List(ctx, slot.DateParam(), slot.TimeParam())
	if err != nil {
		return err
	}
	for _, st := range list {
		if err := s.publish(ctx, st); err != nil {
			return err
		}
	}
	metrics.IncRelayRequest("view")
	return nil
}

// Sweep releases PENDING rows whose lease ran out, which covers holders that
// vanished without sending EMPTY.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	pending, err := s.Store.Pending(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pending {
		key := fmt.Sprintf(redisx.KeyHoldLease, p.BookingDate, p.BookingTime, p.ID)
		ok, err := redisx.Exists(ctx, s.Redis, key)
		if err != nil {
			return n, err
		}
		if ok {
			continue
		}
		// a hold accepted since Pending was read bumped the version
		saved, released, err := s.Store.ReleaseIfVersion(ctx, p.BookingDate, p.BookingTime, p.ID, p.Version)
		if err != nil {
			return n, err
		}
		if !released {
			continue
		}
		if err := s.publish(ctx, saved); err != nil {
			return n, err
		}
		n++
		s.Log.Info().Str("table", p.ID).Str("who", p.UserEmail).Msg("lease expired, table released")
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx ends.
func (s *Service) RunSweeper(ctx context.Context, every time.Duration) error {
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.Log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

func (s *Service) publish(ctx context.Context, st tables.TableStatusData) error {
	env, err := tables.StatusEnvelope(st)
	if err != nil {
		return err
	}
	return s.Out.Send(ctx, tables.TopicBarTables, outbound{Envelope: env, tableID: st.ID})
}
