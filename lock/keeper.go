package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

// Keeper renews a lease in the background until stopped.
// Once the lease is lost, Lost is closed and Err reports why.
type Keeper struct {
	coordinator *Coordinator
	cancel      context.CancelFunc
	done        chan struct{}
	lost        chan struct{}

	mu    sync.Mutex
	lease migrator.LockRecord
	err   error
}

// Keep starts renewing lease every RenewInterval.
func (c *Coordinator) Keep(ctx context.Context, lease migrator.LockRecord) *Keeper {
	ctx, cancel := context.WithCancel(ctx)
	k := &Keeper{
		coordinator: c,
		cancel:      cancel,
		done:        make(chan struct{}),
		lost:        make(chan struct{}),
		lease:       lease,
	}
	go k.run(ctx)
	return k
}

func (k *Keeper) run(ctx context.Context) {
	defer close(k.done)

	cfg := k.coordinator.config
	ticker := time.NewTicker(cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := k.Lease()
			renewed, err := k.coordinator.Renew(ctx, current)
			if err == nil {
				k.mu.Lock()
				k.lease = renewed
				k.mu.Unlock()
				if cfg.Logger != nil {
					cfg.Logger.Debug(ctx, "Lease renewed", "operation", renewed.Operation, "expiresAt", renewed.ExpiresAt)
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}

			if cfg.Logger != nil {
				cfg.Logger.Error(ctx, "Lease renewal failed", "operation", current.Operation, "error", err)
			}
			// Transient failures are tolerated until the lease runs out.
			if errors.Is(err, migrator.ErrLeaseLost) || current.Expired(cfg.Now()) {
				if !errors.Is(err, migrator.ErrLeaseLost) {
					err = errors.Join(migrator.ErrLeaseLost, err)
				}
				k.mu.Lock()
				k.err = err
				k.mu.Unlock()
				close(k.lost)
				return
			}
		}
	}
}

// Lease returns the lease with its latest expiry.
func (k *Keeper) Lease() migrator.LockRecord {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lease
}

// Lost is closed when the lease can no longer be renewed.
func (k *Keeper) Lost() <-chan struct{} {
	return k.lost
}

// Err returns a migrator.ErrLeaseLost error once the lease is lost, nil before.
func (k *Keeper) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.err
}

// Stop ends the renewal loop and waits for it to exit.
func (k *Keeper) Stop() {
	k.cancel()
	<-k.done
}
