package service

import (
	"fmt"
	"time"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/wayforpay"
)

// ReplayGuard rejects notifications whose processingDate is older than TTL.
// A zero TTL disables the check, and notifications without processingDate
// pass.
type ReplayGuard struct {
	TTL time.Duration
	Now func() time.Time
}

func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{TTL: ttl, Now: time.Now}
}

func (g *ReplayGuard) Check(n *wayforpay.Notification) error {
	if g.TTL <= 0 {
		return nil
	}
	processed, ok := n.ProcessingTime()
	if !ok {
		return nil
	}
	age := g.Now().Sub(processed)
	if age > g.TTL {
		return fmt.Errorf("%w: age %s, ttl %s", domain.ErrReplayTooOld, age.Truncate(time.Second), g.TTL)
	}
	return nil
}
