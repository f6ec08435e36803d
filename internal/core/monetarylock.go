package core

import (
	"time"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

// MonetaryLock is the one-way latch protecting a card's deal value. The zero
// value is unlocked. There is no operation that returns an unlocked lock from
// a locked one.
type MonetaryLock struct {
	locked bool
	since  *time.Time
}

// Unlocked returns an unlocked latch.
func Unlocked() MonetaryLock {
	return MonetaryLock{}
}

// LockedSince returns a latch locked at t. A nil t means the lock time is
// unknown (cards locked before lock times were recorded).
func LockedSince(t *time.Time) MonetaryLock {
	return MonetaryLock{locked: true, since: t}
}

// LockFromCard restores the latch state stored on a card.
func LockFromCard(c *models.Card) MonetaryLock {
	if c != nil && c.IsMonetaryLocked {
		return LockedSince(c.MonetaryLockedAt)
	}
	return Unlocked()
}

// IsLocked reports whether the latch has engaged.
func (l MonetaryLock) IsLocked() bool { return l.locked }

// Since returns when the latch engaged, if known.
func (l MonetaryLock) Since() *time.Time { return l.since }

// Evaluate returns the latch state after a funnel transition. A locked latch
// is returned unchanged.
func (l MonetaryLock) Evaluate(prevFunnel, nextFunnel string, funnels []models.FunnelConfig, value *float64, now time.Time) MonetaryLock {
	if l.locked {
		return l
	}
	if ShouldLock(prevFunnel, nextFunnel, funnels, value, false) {
		return LockedSince(&now)
	}
	return l
}

// ShouldLock reports whether a card's value must be locked: the card leaves
// a monetary funnel for a non-monetary or unknown one while carrying a
// positive value. Once alreadyLocked is true the answer is always true.
func ShouldLock(prevFunnel, nextFunnel string, funnels []models.FunnelConfig, value *float64, alreadyLocked bool) bool {
	if alreadyLocked {
		return true
	}
	if value == nil || *value <= 0 {
		return false
	}
	prev := funnelByType(funnels, prevFunnel)
	if prev == nil || !prev.IsMonetary {
		return false
	}
	next := funnelByType(funnels, nextFunnel)
	return next == nil || !next.IsMonetary
}

func funnelByType(funnels []models.FunnelConfig, funnelType string) *models.FunnelConfig {
	if funnelType == "" {
		return nil
	}
	for i := range funnels {
		if funnels[i].FunnelType == funnelType {
			return &funnels[i]
		}
	}
	return nil
}
