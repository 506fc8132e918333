package hold

import (
	"fmt"
	"time"
)

type NoticeKind string

const (
	NoticeExpired  NoticeKind = "expired"
	NoticeHoldLost NoticeKind = "hold_lost"
)

// Notice is a user-facing message produced by the board, e.g. an expired hold.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	TableID   string     `json:"tableId"`
	TableName string     `json:"tableName"`
	Message   string     `json:"message"`
	At        time.Time  `json:"at"`
}

func expiredNotice(id, name string, at time.Time) Notice {
	return Notice{
		Kind:      NoticeExpired,
		TableID:   id,
		TableName: name,
		Message:   fmt.Sprintf("Hold on table %s expired", name),
		At:        at,
	}
}

func lostNotice(id, name string, at time.Time) Notice {
	return Notice{
		Kind:      NoticeHoldLost,
		TableID:   id,
		TableName: name,
		Message:   fmt.Sprintf("Table %s is no longer held by you", name),
		At:        at,
	}
}
