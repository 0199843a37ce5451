package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/vodcache/internal/data"
	"github.com/tinoosan/vodcache/internal/metrics"
	"github.com/tinoosan/vodcache/internal/repo"
	"github.com/tinoosan/vodcache/internal/service"
)

// Inventory answers whether an asset's artifact is currently stored.
type Inventory interface {
	VideoExists(id string) bool
}

// Reconciler consumes orchestrator updates and records them in the asset
// ledger.
type Reconciler struct {
	repo    repo.AssetRepo
	updates <-chan service.Update
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler that folds updates into the repository.
func New(log *slog.Logger, repo repo.AssetRepo, updates <-chan service.Update) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, updates: updates, log: log, ctx: context.Background()}
}

// Run starts the reconciliation loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	// Tag this run with a stable operation_id for easier correlation.
	r.log = r.log.With("operation_id", uuid.NewString())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				return
			case u, ok := <-r.updates:
				if !ok {
					return
				}
				r.handle(u)
			}
		}
	}()
}

// Stop terminates the reconciliation loop.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		r.stop = nil
	}
}

// Wait blocks until the update channel has been closed and drained.
func (r *Reconciler) Wait() { r.wg.Wait() }

func (r *Reconciler) handle(u service.Update) {
	metrics.DownloadUpdates.WithLabelValues(strings.ToLower(string(u.State.Kind))).Inc()
	_, err := r.repo.Upsert(r.ctx, u.AssetID, func(a *data.Asset) error {
		a.Apply(u.State, u.Locator, u.At)
		return nil
	})
	if err != nil {
		r.log.Error("record update", "id", u.AssetID, "state", u.State.String(), "err", err)
		return
	}
	if u.State.IsDownloading() {
		r.log.Debug("recorded progress", "id", u.AssetID, "session_id", u.SessionID, "progress", u.State.Progress)
		return
	}
	r.log.Info("reconciled update", "id", u.AssetID, "session_id", u.SessionID, "state", u.State.String())
}

// Sync brings the ledger in line with storage at startup: transfers never
// survive a restart, and an artifact may have been removed behind our back.
// It returns the number of records it corrected.
func (r *Reconciler) Sync(ctx context.Context, inv Inventory) (int, error) {
	lg := r.log.With("operation_id", uuid.NewString())
	assets, err := r.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, a := range assets {
		stored := inv.VideoExists(a.ID)
		var want data.DownloadState
		switch {
		case a.Status == data.KindDownloading:
			want = data.NotStarted()
			if stored {
				want = data.Completed()
			}
		case a.Status == data.KindCompleted && !stored:
			want = data.NotStarted()
		case a.Status != data.KindCompleted && stored:
			want = data.Completed()
		default:
			continue
		}
		if _, err := r.repo.Upsert(ctx, a.ID, func(cur *data.Asset) error {
			cur.Apply(want, "", time.Now())
			return nil
		}); err != nil {
			lg.Error("sync record", "id", a.ID, "err", err)
			return fixed, err
		}
		lg.Info("corrected ledger record", "id", a.ID, "from", string(a.Status), "to", string(want.Kind))
		fixed++
	}
	return fixed, nil
}
