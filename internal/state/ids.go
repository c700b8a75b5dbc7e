package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// idMinter produces waypoint ids of the form <unixMillis>-<seq>-<random>.
// It is only called with the store lock held.
type idMinter struct {
	seq uint64
	now func() time.Time
}

func newIDMinter(now func() time.Time) *idMinter {
	return &idMinter{now: now}
}

// next returns an id for which taken reports false.
func (m *idMinter) next(taken func(string) bool) string {
	for {
		m.seq++
		id := fmt.Sprintf("%d-%d-%s", m.now().UnixMilli(), m.seq, uuid.NewString()[:8])
		if !taken(id) {
			return id
		}
	}
}
