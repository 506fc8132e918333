package tables

import (
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusEmpty    Status = "EMPTY"
	StatusPending  Status = "PENDING"
	StatusServing  Status = "SERVING"
	StatusReserved Status = "RESERVED"
)

// validToggle lists the only transitions a client may make on its own.
// Everything else arrives from the server and overwrites the cached value.
var validToggle = map[Status]map[Status]bool{
	StatusEmpty:    {StatusPending: true},
	StatusPending:  {StatusEmpty: true},
	StatusServing:  {},
	StatusReserved: {},
}

func CanToggle(from, to Status) bool {
	return validToggle[from][to]
}

// Toggled returns the status a local click moves the table to.
func (s Status) Toggled() Status {
	if s == StatusPending {
		return StatusEmpty
	}
	return StatusPending
}

func (s Status) Valid() bool {
	switch s {
	case StatusEmpty, StatusPending, StatusServing, StatusReserved:
		return true
	}
	return false
}

// Interactive reports whether a customer may click a table in this state.
func (s Status) Interactive() bool {
	return s == StatusEmpty || s == StatusPending
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown table status %q", v)
	}
	return s, nil
}

// UnmarshalJSON rejects anything outside the four known states so a bad
// server payload can never put a fifth value in the cache.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
