package countdown

import (
	"sort"
	"time"
)

// Snapshot carries running countdowns across a step change. StartTime is the
// wall clock (epoch millis) at which Countdowns were read.
type Snapshot struct {
	Countdowns map[string]int `json:"countdowns"`
	StartTime  int64          `json:"startTime"`
}

func NewSnapshot(countdowns map[string]int, at time.Time) Snapshot {
	cp := make(map[string]int, len(countdowns))
	for id, rem := range countdowns {
		cp[id] = rem
	}
	return Snapshot{Countdowns: cp, StartTime: at.UnixMilli()}
}

func (s Snapshot) Started() time.Time { return time.UnixMilli(s.StartTime) }

// Remaining is max(0, stored - whole seconds elapsed since StartTime).
// The second result is false for tables not in the snapshot.
func (s Snapshot) Remaining(tableID string, now time.Time) (int, bool) {
	orig, ok := s.Countdowns[tableID]
	if !ok {
		return 0, false
	}
	elapsed := int(now.Sub(s.Started()) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if rem := orig - elapsed; rem > 0 {
		return rem, true
	}
	return 0, true
}

// Recompute splits the snapshot into tables still running (with their new
// remaining seconds) and tables that ran out.
func (s Snapshot) Recompute(now time.Time) (live map[string]int, expired []string) {
	live = make(map[string]int)
	for id := range s.Countdowns {
		rem, _ := s.Remaining(id, now)
		if rem > 0 {
			live[id] = rem
		} else {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return live, expired
}

func (s Snapshot) Empty() bool { return len(s.Countdowns) == 0 }
