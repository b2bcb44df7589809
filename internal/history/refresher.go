package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/meltingclock/autonomy-orders/internal/helpers"
	"github.com/meltingclock/autonomy-orders/internal/metrics"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

// Source is the history query channel.
type Source interface {
	FetchOrders(ctx context.Context, account, target common.Address) ([]RawOrderRecord, error)
	FetchCancellations(ctx context.Context, account, target common.Address) ([]Cancellation, error)
}

// Snapshot is the immutable result of one refresh cycle.
type Snapshot struct {
	Cycle       uint64
	Account     common.Address
	Orders      []Order
	RefreshedAt time.Time
}

// Open returns the orders that can still be cancelled.
func (s *Snapshot) Open() []Order {
	var out []Order
	for _, o := range s.Orders {
		if o.Status == StatusOpen && o.Classified() {
			out = append(out, o)
		}
	}
	return out
}

// Find returns the order with the given id.
func (s *Snapshot) Find(id string) (Order, bool) {
	for _, o := range s.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

// Refresher rebuilds the order history for one account. Concurrent Refresh
// calls are allowed; a cycle that finishes after a newer one is discarded.
type Refresher struct {
	src     Source
	account common.Address
	target  common.Address // mid-router the requests were made against
	router  common.Address // DEX router the orders must reference

	cycle atomic.Uint64

	mu   sync.RWMutex
	snap *Snapshot

	onPublish func(*Snapshot)
}

type RefresherOption func(*Refresher)

// OnPublish registers a callback invoked with every newly published snapshot.
func OnPublish(fn func(*Snapshot)) RefresherOption {
	return func(r *Refresher) { r.onPublish = fn }
}

func NewRefresher(src Source, account, target, router common.Address, opts ...RefresherOption) *Refresher {
	r := &Refresher{src: src, account: account, target: target, router: router}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the latest published snapshot, or nil before the first.
func (r *Refresher) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Refresh runs one cycle. It returns the latest published snapshot, which is
// not the one built by this call when a newer cycle already published.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	cycle := r.cycle.Add(1)
	start := time.Now()

	var (
		records []RawOrderRecord
		cancels []Cancellation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = r.src.FetchOrders(gctx, r.account, r.target)
		return errors.Wrap(err, "fetch orders")
	})
	g.Go(func() error {
		var err error
		cancels, err = r.src.FetchCancellations(gctx, r.account, r.target)
		return errors.Wrap(err, "fetch cancellations")
	})
	if err := g.Wait(); err != nil {
		metrics.RecordRefresh("error", time.Since(start))
		telemetry.Warnf("[history] cycle %d for %s failed: %v", cycle, helpers.FormatAddress(r.account), err)
		return r.Snapshot(), err
	}

	snap := &Snapshot{
		Cycle:       cycle,
		Account:     r.account,
		Orders:      Reconstruct(records, cancels, r.router),
		RefreshedAt: time.Now(),
	}

	if !r.publish(snap) {
		metrics.RecordRefresh("stale", time.Since(start))
		telemetry.Debugf("[history] cycle %d discarded, newer snapshot already published", cycle)
		return r.Snapshot(), nil
	}

	metrics.RecordRefresh("published", time.Since(start))
	counts := Counts(snap.Orders)
	metrics.UpdateOrderCounts(cycle, counts)
	telemetry.Debugf("[history] cycle %d: %d orders (%d open, %d cancelled, %d executed)",
		cycle, len(snap.Orders), counts["open"], counts["cancelled"], counts["executed"])

	if r.onPublish != nil {
		r.onPublish(snap)
	}
	return snap, nil
}

func (r *Refresher) publish(snap *Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap != nil && r.snap.Cycle >= snap.Cycle {
		return false
	}
	r.snap = snap
	return true
}

// Run refreshes immediately and then every interval until ctx is done.
// Failed cycles are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("invalid refresh interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = r.Refresh(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
