package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tinoosan/vodcache/internal/broadcast"
	"github.com/tinoosan/vodcache/internal/data"
	"github.com/tinoosan/vodcache/internal/service"
)

var (
	ErrMissingAssetID     = errors.New("failed to obtain video ID")
	ErrMissingPlaybackURL = errors.New("failed to obtain video URL")
	ErrClosed             = errors.New("playback controller closed")
)

// Phase is the controller's position in its state machine.
type Phase string

const (
	PhaseIdle                      Phase = "Idle"
	PhaseStreaming                 Phase = "Streaming"
	PhaseDownloading               Phase = "Downloading"
	PhaseLocal                     Phase = "Local"
	PhaseShowingDeleteConfirmation Phase = "ShowingDeleteConfirmation"
)

const defaultSeekTimeout = 10 * time.Second

// Snapshot is what a UI renders: the loaded asset's download state, where
// playback reads from and the last error worth showing.
type Snapshot struct {
	AssetID string             `json:"id,omitempty"`
	Phase   Phase              `json:"phase"`
	State   data.DownloadState `json:"state"`
	Source  Indicator          `json:"source,omitempty"`
	Err     string             `json:"error,omitempty"`
}

// Controller binds one player session to the orchestrator for whichever
// asset is loaded.
type Controller struct {
	orch        service.Downloads
	session     Session
	log         *slog.Logger
	seekTimeout time.Duration
	hub         *broadcast.Hub[Snapshot]

	mu     sync.Mutex
	snap   Snapshot
	remote string
	sub    *service.Subscription
	closed bool
}

func NewController(orch service.Downloads, session Session, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		orch:        orch,
		session:     session,
		log:         log,
		seekTimeout: defaultSeekTimeout,
		hub:         broadcast.NewHub[Snapshot](),
		snap:        Snapshot{Phase: PhaseIdle, State: data.NotStarted()},
	}
}

// SetSeekTimeout bounds how long a source swap waits for the player's seek.
func (c *Controller) SetSeekTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.seekTimeout = d
	}
}

// Snapshot returns the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Watch subscribes to every subsequent Snapshot change.
func (c *Controller) Watch() *broadcast.Subscription[Snapshot] { return c.hub.Subscribe() }

// Load points the session at id, preferring the stored artifact over
// remote, and starts playback. Anything previously loaded is torn down.
func (c *Controller) Load(id, remote string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.teardownLocked()

	id, err := data.ValidateAssetID(id)
	if err != nil {
		c.setLocked(Snapshot{Phase: PhaseIdle, State: data.NotStarted(), Err: ErrMissingAssetID.Error()})
		return ErrMissingAssetID
	}
	loc := c.orch.PlaybackURL(id, remote)
	if loc == "" {
		c.setLocked(Snapshot{AssetID: id, Phase: PhaseIdle, State: data.NotStarted(), Err: ErrMissingPlaybackURL.Error()})
		return ErrMissingPlaybackURL
	}

	// Attach before reading Active so no transition for id is missed.
	sub := c.orch.Subscribe()
	snap := Snapshot{AssetID: id, Phase: PhaseStreaming, State: data.NotStarted()}
	src := Remote(loc)
	if loc != remote {
		src = Local(loc)
		snap.Phase, snap.State = PhaseLocal, data.Completed()
	} else if active, _, ok := c.orch.Active(); ok && active == id {
		snap.Phase, snap.State = PhaseDownloading, data.Downloading(0)
	}

	if err := c.session.ReplaceSource(src.Locator); err != nil {
		sub.Close()
		c.log.Error("load source", "id", id, "err", err)
		c.setLocked(Snapshot{AssetID: id, Phase: PhaseIdle, State: snap.State, Err: err.Error()})
		return err
	}
	c.session.Play()

	snap.Source = src.Indicator()
	c.remote = remote
	c.sub = sub
	c.setLocked(snap)
	c.log.Info("playback loaded", "id", id, "source", snap.Source)
	go c.consume(sub)
	return nil
}

// RequestDownloadOrDelete starts a download when nothing is stored and asks
// for delete confirmation when the artifact is. Otherwise it does nothing.
func (c *Controller) RequestDownloadOrDelete(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return
	}
	switch c.snap.State.Kind {
	case data.KindNotStarted:
		// Our own subscription already sees this download's updates.
		c.orch.StartDownload(ctx, c.snap.AssetID, c.remote).Close()
		c.snap.Phase = PhaseDownloading
		c.snap.State = data.Downloading(0)
		c.snap.Err = ""
		c.publishLocked()
	case data.KindCompleted:
		if c.snap.Phase == PhaseLocal {
			c.snap.Phase = PhaseShowingDeleteConfirmation
			c.publishLocked()
		}
	}
}

// ConfirmDelete deletes the stored artifact after RequestDownloadOrDelete
// asked for confirmation.
func (c *Controller) ConfirmDelete(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil || c.snap.Phase != PhaseShowingDeleteConfirmation {
		return
	}
	res := c.orch.DeleteDownloadedVideo(ctx, c.snap.AssetID)
	if res.IsFailed() {
		c.log.Warn("delete failed", "id", c.snap.AssetID, "err", res.Message)
		c.snap.Phase = PhaseLocal
		c.snap.State = data.Completed()
		c.snap.Err = res.Message
		c.publishLocked()
		return
	}
	c.snap.Err = ""
	c.substituteLocked(Remote(c.remote))
	c.snap.Phase = PhaseStreaming
	c.snap.State = data.NotStarted()
	c.publishLocked()
}

// DismissDeleteConfirmation backs out of a pending delete.
func (c *Controller) DismissDeleteConfirmation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.Phase == PhaseShowingDeleteConfirmation {
		c.snap.Phase = PhaseLocal
		c.publishLocked()
	}
}

// CancelDownload stops the loaded asset's download. The controller returns
// to streaming when the cancellation shows up on the stream.
func (c *Controller) CancelDownload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil || c.snap.Phase != PhaseDownloading {
		return
	}
	if id, _, ok := c.orch.Active(); ok && id == c.snap.AssetID {
		c.orch.CancelDownload()
	}
}

// Close tears down the loaded asset and ends every Watch subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.closed = true
	c.mu.Unlock()
	c.hub.Close()
}

func (c *Controller) teardownLocked() {
	if c.sub == nil {
		return
	}
	c.sub.Close()
	c.sub = nil
	c.session.Pause()
}

func (c *Controller) consume(sub *service.Subscription) {
	for u := range sub.C() {
		if !c.apply(sub, u) {
			return
		}
	}
}

// apply folds one orchestrator update into the state machine. It reports
// false once sub no longer belongs to the loaded asset.
func (c *Controller) apply(sub *service.Subscription, u service.Update) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != sub {
		return false
	}
	if u.AssetID != c.snap.AssetID {
		return true
	}

	st := u.State
	switch st.Kind {
	case data.KindDownloading:
		if c.snap.Phase == PhaseStreaming || c.snap.Phase == PhaseDownloading {
			c.snap.Phase = PhaseDownloading
			c.snap.State = st
			c.publishLocked()
		}

	case data.KindCompleted:
		if c.snap.Phase != PhaseStreaming && c.snap.Phase != PhaseDownloading {
			return true
		}
		c.snap.Phase = PhaseLocal
		c.snap.State = st
		c.snap.Err = ""
		if p, ok := c.orch.LocalPath(c.snap.AssetID); ok {
			c.substituteLocked(Local(p))
		} else {
			c.snap.Err = ErrMissingPlaybackURL.Error()
		}
		c.publishLocked()

	case data.KindFailed:
		// Deletion results are acted on where the delete was requested.
		if st.Failure == data.FailureDownload && c.snap.Phase == PhaseDownloading {
			c.snap.Phase = PhaseStreaming
			c.snap.State = data.NotStarted()
			c.snap.Err = st.Message
			c.publishLocked()
		}

	case data.KindNotStarted:
		switch c.snap.Phase {
		case PhaseDownloading:
			c.snap.Phase = PhaseStreaming
			c.snap.State = st
			c.publishLocked()
		case PhaseLocal, PhaseShowingDeleteConfirmation:
			// Deleted by another caller while we were reading it.
			c.substituteLocked(Remote(c.remote))
			c.snap.Phase = PhaseStreaming
			c.snap.State = st
			c.publishLocked()
		}
	}
	return true
}

// substituteLocked swaps the session onto src and records the outcome on
// the snapshot. The indicator only changes once the replace went through.
func (c *Controller) substituteLocked(src Source) {
	ctx, cancel := context.WithTimeout(context.Background(), c.seekTimeout)
	defer cancel()
	ind, err := Substitute(ctx, c.session, src)
	if ind != IndicatorNone {
		c.snap.Source = ind
	}
	if err != nil {
		c.log.Warn("source substitution", "id", c.snap.AssetID, "target", src.Indicator(), "err", err)
		c.snap.Err = err.Error()
	}
}

func (c *Controller) setLocked(s Snapshot) {
	c.snap = s
	c.publishLocked()
}

func (c *Controller) publishLocked() {
	if !c.closed {
		c.hub.Publish(c.snap)
	}
}
