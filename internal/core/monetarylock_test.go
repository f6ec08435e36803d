package core

import (
	"testing"
	"time"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

func TestShouldLock(t *testing.T) {
	funnels := salesBoard().Funnels
	tests := []struct {
		name    string
		prev    string
		next    string
		value   *float64
		already bool
		want    bool
	}{
		{"venda to suporte with value locks", "venda", "suporte", ptr(5000.0), false, true},
		{"venda to unknown funnel locks", "venda", "marketing", ptr(10.0), false, true},
		{"venda to empty funnel locks", "venda", "", ptr(10.0), false, true},
		{"venda to venda does not lock", "venda", "venda", ptr(5000.0), false, false},
		{"zero value does not lock", "venda", "suporte", ptr(0.0), false, false},
		{"negative value does not lock", "venda", "suporte", ptr(-3.0), false, false},
		{"nil value does not lock", "venda", "suporte", nil, false, false},
		{"non-monetary previous does not lock", "suporte", "venda", ptr(5000.0), false, false},
		{"unknown previous does not lock", "outro", "suporte", ptr(5000.0), false, false},
		{"empty previous does not lock", "", "suporte", ptr(5000.0), false, false},
		{"already locked stays locked", "suporte", "venda", nil, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldLock(tt.prev, tt.next, funnels, tt.value, tt.already)
			if got != tt.want {
				t.Errorf("ShouldLock(%q, %q, %v, %v) = %v, want %v", tt.prev, tt.next, tt.value, tt.already, got, tt.want)
			}
		})
	}
}

func TestMonetaryLock_Evaluate(t *testing.T) {
	funnels := salesBoard().Funnels

	l := Unlocked()
	if l.IsLocked() || l.Since() != nil {
		t.Fatalf("Unlocked() = %+v", l)
	}

	l = l.Evaluate("venda", "suporte", funnels, ptr(5000.0), fixedNow)
	if !l.IsLocked() {
		t.Fatal("expected lock after venda -> suporte with value 5000")
	}
	if l.Since() == nil || !l.Since().Equal(fixedNow) {
		t.Errorf("Since = %v, want %v", l.Since(), fixedNow)
	}

	later := fixedNow.Add(time.Hour)
	again := l.Evaluate("suporte", "venda", funnels, nil, later)
	if !again.IsLocked() {
		t.Fatal("lock released by a later transition")
	}
	if !again.Since().Equal(fixedNow) {
		t.Errorf("lock time moved from %v to %v", fixedNow, again.Since())
	}
}

func TestLockFromCard(t *testing.T) {
	if LockFromCard(nil).IsLocked() {
		t.Error("nil card should be unlocked")
	}
	c := &models.Card{IsMonetaryLocked: true}
	l := LockFromCard(c)
	if !l.IsLocked() || l.Since() != nil {
		t.Errorf("LockFromCard without timestamp = %+v", l)
	}
	c.MonetaryLockedAt = &fixedNow
	if got := LockFromCard(c).Since(); got == nil || !got.Equal(fixedNow) {
		t.Errorf("Since = %v, want %v", got, fixedNow)
	}
}
