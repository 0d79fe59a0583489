package authkit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const pinLockStripes = 64

// pinLockout tracks failed PIN attempts and enforces the lockout
// window. State lives in the credential store so a lockout survives
// process restarts; the striped mutexes serialize the read-modify-write
// per user within this process so concurrent failures cannot lose
// increments. The counter never decreases except through Reset.
type pinLockout struct {
	store CredentialStore
	cfg   PinConfig

	stripes [pinLockStripes]sync.Mutex
}

func newPinLockout(store CredentialStore, cfg PinConfig) *pinLockout {
	return &pinLockout{store: store, cfg: cfg}
}

func (p *pinLockout) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &p.stripes[h.Sum32()%pinLockStripes]
}

// Status derives the lock state from the persisted fields.
func (p *pinLockout) Status(user UserRecord, now time.Time) PinLockStatus {
	status := PinLockStatus{Attempts: user.FailedPinAttempts}
	if !user.PinLockedUntil.IsZero() && now.Before(user.PinLockedUntil) {
		status.Locked = true
		status.Remaining = user.PinLockedUntil.Sub(now)
	}
	return status
}

// RecordFailure persists one more failed attempt and reports whether it
// tripped the lockout. An expired lock is cleared first, so the counter
// restarts at one after a lockout window has passed.
func (p *pinLockout) RecordFailure(ctx context.Context, userID string) (bool, error) {
	mu := p.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	user, err := p.store.FindUserByID(ctx, userID)
	if err != nil {
		return false, wrapStoreErr(err)
	}

	now := time.Now()
	attempts := user.FailedPinAttempts
	lockedUntil := user.PinLockedUntil

	if !lockedUntil.IsZero() && !now.Before(lockedUntil) {
		attempts = 0
		lockedUntil = time.Time{}
	}

	attempts++
	tripped := attempts >= p.cfg.MaxAttempts
	if tripped {
		lockedUntil = now.Add(p.cfg.LockoutDuration)
	}

	if err := p.store.UpdatePinLockState(ctx, userID, attempts, lockedUntil); err != nil {
		return false, wrapStoreErr(err)
	}
	return tripped, nil
}

// Reset clears the counter and lock after a successful PIN login.
func (p *pinLockout) Reset(ctx context.Context, userID string) error {
	mu := p.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := p.store.UpdatePinLockState(ctx, userID, 0, time.Time{}); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}
