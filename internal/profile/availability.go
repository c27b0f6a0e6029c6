package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"trade-journal-go/internal/store"

	"go.uber.org/zap"
)

// ErrSuperseded is returned to a username check that was replaced by a newer
// check from the same owner before it completed.
var ErrSuperseded = errors.New("username check superseded by a newer request")

// Availability is the answer to a username check.
type Availability struct {
	Username  string `json:"username"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type pendingCheck struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

// AvailabilityChecker debounces username lookups per owner. Each check waits
// for the debounce delay before querying the store; a newer check from the
// same owner cancels the older one, so only the latest result is returned.
type AvailabilityChecker struct {
	profiles store.ProfileStore
	delay    time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[string]pendingCheck
}

// NewAvailabilityChecker returns a checker that waits delay before each lookup.
func NewAvailabilityChecker(profiles store.ProfileStore, delay time.Duration, logger *zap.Logger) *AvailabilityChecker {
	return &AvailabilityChecker{
		profiles: profiles,
		delay:    delay,
		logger:   logger,
		pending:  make(map[string]pendingCheck),
	}
}

// Check reports whether username is free for ownerID. Names failing the
// format rules are reported unavailable without a lookup.
func (c *AvailabilityChecker) Check(ctx context.Context, ownerID, username string) (Availability, error) {
	normalized, err := NormalizeUsername(username)
	if err != nil {
		return Availability{Username: username, Reason: err.Error()}, nil
	}

	ctx, seq := c.register(ctx, ownerID)
	defer c.release(ownerID, seq)

	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return Availability{}, context.Cause(ctx)
	}

	taken, err := c.profiles.UsernameExists(ctx, normalized, ownerID)
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrSuperseded) {
			return Availability{}, ErrSuperseded
		}
		return Availability{}, err
	}
	if !c.current(ownerID, seq) {
		return Availability{}, ErrSuperseded
	}

	out := Availability{Username: normalized, Available: !taken}
	if taken {
		out.Reason = "username is already taken"
	}
	return out, nil
}

// register makes this check the owner's latest, cancelling any earlier one.
func (c *AvailabilityChecker) register(parent context.Context, ownerID string) (context.Context, uint64) {
	ctx, cancel := context.WithCancelCause(parent)

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.pending[ownerID]; ok {
		prev.cancel(ErrSuperseded)
		c.logger.Debug("Superseded username check", zap.String("user_id", ownerID), zap.Uint64("seq", prev.seq))
	}
	c.seq++
	c.pending[ownerID] = pendingCheck{seq: c.seq, cancel: cancel}
	return ctx, c.seq
}

func (c *AvailabilityChecker) current(ownerID string, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[ownerID]
	return ok && p.seq == seq
}

func (c *AvailabilityChecker) release(ownerID string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[ownerID]; ok && p.seq == seq {
		p.cancel(nil)
		delete(c.pending, ownerID)
	}
}
