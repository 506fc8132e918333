package tables

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanToggle(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusEmpty, StatusPending, true},
		{StatusPending, StatusEmpty, true},
		{StatusEmpty, StatusServing, false},
		{StatusServing, StatusEmpty, false},
		{StatusReserved, StatusPending, false},
		{StatusPending, StatusReserved, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanToggle(tt.from, tt.to))
		})
	}
}

func TestStatusUnmarshalRejectsUnknown(t *testing.T) {
	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"SERVING"`), &s))
	assert.Equal(t, StatusServing, s)

	err := json.Unmarshal([]byte(`"CLEANING"`), &s)
	assert.Error(t, err)
	assert.Equal(t, StatusServing, s)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "BC-1", Label(CategoryBarCounter, 0))
	assert.Equal(t, "VIP-3", Label(CategoryVIPBooth, 2))
	assert.Equal(t, "LB-10", Label(CategoryLounge, 9))
	assert.Equal(t, "PB-2", Label(CategoryPartyBar, 1))
	assert.Equal(t, "5", Label(Category("Patio"), 4))
}

func TestGroupByCategory(t *testing.T) {
	ts := []Table{
		{ID: "1", Name: "BC-1", Type: TableType{Name: "Bar Counter"}},
		{ID: "2", Name: "VIP-1", Type: TableType{Name: "VIP Booth"}},
		{ID: "3", Name: "BC-2", Type: TableType{Name: "Bar Counter"}},
	}
	g := GroupByCategory(ts)
	require.Len(t, g[CategoryBarCounter], 2)
	assert.Equal(t, "3", g[CategoryBarCounter][1].ID)
	assert.Len(t, g[CategoryVIPBooth], 1)
	assert.Empty(t, g[CategoryLounge])
}

func TestDecodeUpdate_Single(t *testing.T) {
	env := Envelope{Code: 200, Data: json.RawMessage(`{"id":"t1","statusEnum":"PENDING","userEmail":"a@x.io","version":7}`)}
	u, err := DecodeUpdate(env)
	require.NoError(t, err)
	assert.Empty(t, u.BookingCode)
	require.Len(t, u.Changes, 1)
	assert.Equal(t, Change{TableID: "t1", Status: StatusPending, Owner: "a@x.io", Version: 7}, u.Changes[0])
}

func TestDecodeUpdate_Booking(t *testing.T) {
	env := Envelope{Code: 200, Data: json.RawMessage(`{
		"bookingCode":"BK-9",
		"bookingTables":[
			{"barTable":{"id":"t1","status":"RESERVED"}},
			{"barTable":{"id":"t2","status":"SERVING","version":3}}
		]}`)}
	u, err := DecodeUpdate(env)
	require.NoError(t, err)
	assert.Equal(t, "BK-9", u.BookingCode)
	require.Len(t, u.Changes, 2)
	assert.Equal(t, StatusReserved, u.Changes[0].Status)
	assert.Equal(t, int64(3), u.Changes[1].Version)
}

func TestDecodeUpdate_Rejects(t *testing.T) {
	_, err := DecodeUpdate(Envelope{Code: 500, Data: json.RawMessage(`{"id":"t1"}`)})
	assert.ErrorIs(t, err, ErrIgnored)

	_, err = DecodeUpdate(Envelope{Code: 200})
	assert.ErrorIs(t, err, ErrIgnored)

	_, err = DecodeUpdate(Envelope{Code: 200, Data: json.RawMessage(`{"id":"t1","statusEnum":"BROKEN"}`)})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrIgnored)

	_, err = DecodeUpdate(Envelope{Code: 200, Data: json.RawMessage(`{"statusEnum":"EMPTY"}`)})
	assert.Error(t, err)
}

func TestDefaultSlot(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name     string
		now      time.Time
		wantDate string
		wantHour int
	}{
		{"afternoon", time.Date(2026, 3, 1, 14, 20, 0, 0, loc), "2026-03-01", 15},
		{"early morning", time.Date(2026, 3, 1, 6, 0, 0, 0, loc), "2026-03-01", 10},
		{"last hour", time.Date(2026, 3, 1, 22, 59, 0, 0, loc), "2026-03-01", 23},
		{"late night", time.Date(2026, 3, 1, 23, 30, 0, 0, loc), "2026-03-02", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSlot(tt.now)
			assert.Equal(t, tt.wantDate, s.DateParam())
			assert.Equal(t, tt.wantHour, s.Hour)
		})
	}
}

func TestParseSlot(t *testing.T) {
	s, err := ParseSlot("2026-05-04", "19:45")
	require.NoError(t, err)
	assert.Equal(t, "2026-05-04", s.DateParam())
	assert.Equal(t, "19:00:00", s.TimeParam())

	_, err = ParseSlot("04/05/2026", "19:00")
	assert.Error(t, err)
	_, err = ParseSlot("2026-05-04", "25:00")
	assert.Error(t, err)

	assert.True(t, s.Matches("2026-05-04", "19:00:00"))
	assert.True(t, s.Matches("", ""))
	assert.False(t, s.Matches("2026-05-04", "20:00:00"))
}

func TestBrokerName(t *testing.T) {
	assert.Equal(t, "topic.bar-tables", BrokerName(TopicBarTables))
	assert.Equal(t, "app.bar-table.status-update", BrokerName(DestStatusUpdate))
}

func TestValidateStatusRequests(t *testing.T) {
	ok := StatusUpdateRequest{BarTableID: "t1", BookingDate: "2026-05-04", BookingTime: "19:00", Status: StatusPending, UserEmail: "a@x.io"}
	require.NoError(t, Validate(ok))

	cases := map[string]func(r *StatusUpdateRequest){
		"BarTableID": func(r *StatusUpdateRequest) { r.BarTableID = "" },
		"Status":     func(r *StatusUpdateRequest) { r.Status = StatusReserved },
		"UserEmail":  func(r *StatusUpdateRequest) { r.UserEmail = "not-an-email" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			r := ok
			mutate(&r)
			err := Validate(r)
			require.Error(t, err)
			assert.True(t, FailedFields(err)[field])
		})
	}

	err := Validate(StatusViewRequest{BookingTime: "19:00"})
	require.Error(t, err)
	assert.Equal(t, map[string]bool{"BookingDate": true}, FailedFields(err))
	assert.Nil(t, FailedFields(nil))
}
