package tables

import (
	"encoding/json"
	"errors"
	"fmt"
)

const CodeOK = 200

// Envelope is the wire shape of every message pushed on the bar-tables topic.
type Envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

// ---- server -> client payloads ----

type TableStatusData struct {
	ID          string `json:"id"`
	Status      Status `json:"statusEnum"`
	UserEmail   string `json:"userEmail,omitempty"`
	Version     int64  `json:"version,omitempty"`
	BookingDate string `json:"bookingDate,omitempty"`
	BookingTime string `json:"bookingTime,omitempty"`
}

type BookingBarTable struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Version int64  `json:"version,omitempty"`
}

type BookingTable struct {
	BarTable BookingBarTable `json:"barTable"`
}

type BookingData struct {
	BookingCode   string         `json:"bookingCode"`
	BookingDate   string         `json:"bookingDate,omitempty"`
	BookingTime   string         `json:"bookingTime,omitempty"`
	BookingTables []BookingTable `json:"bookingTables"`
}

// ---- client -> server requests ----

// clients may only hold or release; SERVING and RESERVED come from bookings
type StatusUpdateRequest struct {
	RequestID   string `json:"requestId,omitempty"`
	BarTableID  string `json:"barTableId" validate:"required"`
	BookingDate string `json:"bookingDate" validate:"required"`
	BookingTime string `json:"bookingTime" validate:"required"`
	Status      Status `json:"status" validate:"oneof=EMPTY PENDING"`
	UserEmail   string `json:"userEmail" validate:"required,email"`
}

type StatusViewRequest struct {
	RequestID   string `json:"requestId,omitempty"`
	BookingDate string `json:"bookingDate" validate:"required"`
	BookingTime string `json:"bookingTime" validate:"required"`
}

// ---- decoded form used by reconcile ----

// Change is one table's new status as announced by the server.
type Change struct {
	TableID string
	Status  Status
	Owner   string
	Version int64
}

// Update groups the changes carried by one message. BookingCode is set for
// booking-driven bulk updates. Date/Time are empty when the server did not
// say which slot the update belongs to.
type Update struct {
	BookingCode string
	Date        string
	Time        string
	Changes     []Change
}

var ErrIgnored = errors.New("message ignored")

// DecodeUpdate turns an envelope into an Update. Non-200 codes and empty
// data yield ErrIgnored; malformed data (including unknown statuses) yields
// a decode error.
func DecodeUpdate(env Envelope) (Update, error) {
	if env.Code != CodeOK || len(env.Data) == 0 || string(env.Data) == "null" {
		return Update{}, ErrIgnored
	}

	var probe struct {
		BookingCode string `json:"bookingCode"`
	}
	if err := json.Unmarshal(env.Data, &probe); err != nil {
		return Update{}, fmt.Errorf("decode data: %w", err)
	}

	if probe.BookingCode != "" {
		var b BookingData
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return Update{}, fmt.Errorf("decode booking update: %w", err)
		}
		u := Update{BookingCode: b.BookingCode, Date: b.BookingDate, Time: b.BookingTime}
		for _, bt := range b.BookingTables {
			u.Changes = append(u.Changes, Change{
				TableID: bt.BarTable.ID,
				Status:  bt.BarTable.Status,
				Version: bt.BarTable.Version,
			})
		}
		return u, nil
	}

	var s TableStatusData
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return Update{}, fmt.Errorf("decode status update: %w", err)
	}
	if s.ID == "" || s.Status == "" {
		return Update{}, fmt.Errorf("decode status update: missing id or status")
	}
	return Update{
		Date: s.BookingDate,
		Time: s.BookingTime,
		Changes: []Change{{
			TableID: s.ID,
			Status:  s.Status,
			Owner:   s.UserEmail,
			Version: s.Version,
		}},
	}, nil
}

// StatusEnvelope wraps a single table status into an OK envelope.
func StatusEnvelope(d TableStatusData) (Envelope, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Code: CodeOK, Data: b}, nil
}
