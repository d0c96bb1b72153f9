// Package lock grants time-bounded leases that guard migration runs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

// Config holds configuration for the lock Coordinator.
type Config struct {
	// Store persists the leases (required).
	Store store.LockStore

	// Timeout is the lease duration (default: 5m).
	Timeout time.Duration

	// RenewInterval is how often a Keeper renews the lease (default: Timeout/3).
	RenewInterval time.Duration

	// Logger is for observability (optional).
	Logger migrator.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Coordinator acquires and releases leases. Acquisition never blocks.
type Coordinator struct {
	config Config
}

// New creates a new lock Coordinator with the given configuration.
func New(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = cfg.Timeout / 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{config: cfg}
}

// DefaultHolderID identifies this process as "<hostname>-<pid>".
func DefaultHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Acquire takes the lease for operation on behalf of holderID.
// Expired leases for the same operation are purged first. If another holder
// owns a live lease the call fails immediately with *migrator.LockContentionError.
func (c *Coordinator) Acquire(ctx context.Context, operation, holderID string) (migrator.LockRecord, error) {
	now := c.config.Now()

	purged, err := c.config.Store.PurgeExpired(ctx, operation, now)
	if err != nil {
		return migrator.LockRecord{}, fmt.Errorf("failed to purge expired locks: %w", err)
	}
	if purged > 0 && c.config.Logger != nil {
		c.config.Logger.Warn(ctx, "Purged expired lease", "operation", operation, "count", purged)
	}

	lease := migrator.LockRecord{
		ID:         uuid.NewString(),
		Operation:  operation,
		AcquiredAt: now,
		ExpiresAt:  now.Add(c.config.Timeout),
		AcquiredBy: holderID,
	}

	err = c.config.Store.Insert(ctx, lease)
	if errors.Is(err, store.ErrLockExists) {
		contention := &migrator.LockContentionError{Operation: operation}
		if current, cerr := c.config.Store.Current(ctx, operation); cerr == nil {
			contention.HeldBy = current.AcquiredBy
			contention.ExpiresAt = current.ExpiresAt
		}
		if c.config.Logger != nil {
			c.config.Logger.Info(ctx, "Lock is held by another process",
				"operation", operation, "heldBy", contention.HeldBy, "expiresAt", contention.ExpiresAt)
		}
		return migrator.LockRecord{}, contention
	}
	if err != nil {
		return migrator.LockRecord{}, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "Lock acquired", "operation", operation, "holder", holderID, "expiresAt", lease.ExpiresAt)
	}
	return lease, nil
}

// Renew extends the lease by Timeout from now.
// Returns an error wrapping migrator.ErrLeaseLost if the lease is gone.
func (c *Coordinator) Renew(ctx context.Context, lease migrator.LockRecord) (migrator.LockRecord, error) {
	expiresAt := c.config.Now().Add(c.config.Timeout)

	err := c.config.Store.Renew(ctx, lease.ID, expiresAt)
	if errors.Is(err, store.ErrLockNotFound) {
		return lease, fmt.Errorf("%w: lease for %s held by %s no longer exists", migrator.ErrLeaseLost, lease.Operation, lease.AcquiredBy)
	}
	if err != nil {
		return lease, fmt.Errorf("failed to renew lock: %w", err)
	}

	lease.ExpiresAt = expiresAt
	return lease, nil
}

// Release deletes the lease. It is idempotent and safe after expiry:
// only the record created with this lease's token is removed.
func (c *Coordinator) Release(ctx context.Context, lease migrator.LockRecord) error {
	if err := c.config.Store.Delete(ctx, lease.ID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "Lock released", "operation", lease.Operation, "holder", lease.AcquiredBy)
	}
	return nil
}
