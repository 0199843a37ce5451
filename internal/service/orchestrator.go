package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/vodcache/internal/broadcast"
	"github.com/tinoosan/vodcache/internal/data"
	"github.com/tinoosan/vodcache/internal/downloader"
	"github.com/tinoosan/vodcache/internal/fp"
	"github.com/tinoosan/vodcache/internal/metrics"
	"github.com/tinoosan/vodcache/internal/reqid"
	"github.com/tinoosan/vodcache/internal/storage"
)

// ErrClosed is reported by callers that find the state stream already shut.
var ErrClosed = errors.New("orchestrator closed")

// MsgArtifactMissing is the Failed message for deleting an asset that has
// nothing stored.
const MsgArtifactMissing = "The downloaded video could not be found"

const (
	msgDeleteFailed  = "Could not delete the video: "
	msgUnexpectedEnd = "transfer ended unexpectedly"
)

// Update is one element of the orchestrator's state stream.
type Update struct {
	AssetID   string             `json:"id"`
	Locator   string             `json:"source,omitempty"`
	SessionID string             `json:"sessionId,omitempty"`
	State     data.DownloadState `json:"state"`
	At        time.Time          `json:"at"`
}

type Subscription = broadcast.Subscription[Update]

// Downloads is the orchestrator surface used by the HTTP API and the
// playback controller.
type Downloads interface {
	StartDownload(ctx context.Context, id, locator string) *Subscription
	CancelDownload()
	VideoExists(id string) bool
	LocalPath(id string) (string, bool)
	PlaybackURL(id, fallback string) string
	DeleteDownloadedVideo(ctx context.Context, id string) data.DownloadState
	Subscribe() *Subscription
	Active() (id, locator string, ok bool)
}

// session is the single in-flight transfer. It is only read or replaced
// while Orchestrator.mu is held.
type session struct {
	id      string
	assetID string
	locator string
	handle  downloader.Handle
	last    float64
	log     *slog.Logger
}

// Orchestrator owns at most one download session and serializes every
// state change and emission behind mu.
type Orchestrator struct {
	store  storage.Gateway
	client downloader.Client
	hub    *broadcast.Hub[Update]
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	session *session
	closed  bool
	wg      sync.WaitGroup
}

var _ Downloads = (*Orchestrator)(nil)

func NewOrchestrator(store storage.Gateway, client downloader.Client, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:  store,
		client: client,
		hub:    broadcast.NewHub[Update](),
		log:    log,
		now:    time.Now,
	}
}

// Subscribe attaches an observer to the state stream. Nothing published
// before the call is replayed.
func (o *Orchestrator) Subscribe() *Subscription { return o.hub.Subscribe() }

// StartDownload begins fetching locator for id and returns a subscription
// attached before anything this call emits. A call for the asset that is
// already downloading changes nothing.
func (o *Orchestrator) StartDownload(ctx context.Context, id, locator string) *Subscription {
	sub := o.hub.Subscribe()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return sub
	}

	vid, err := data.ValidateAssetID(id)
	if err != nil {
		o.publishLocked(Update{AssetID: id, Locator: locator, State: data.Failed(err.Error(), data.FailureDownload)})
		return sub
	}
	id = vid
	if s := o.session; s != nil && s.assetID == id {
		s.log.Debug("download already in progress")
		return sub
	}
	key := fp.Key(id)
	if o.store.Exists(key) {
		o.log.Info("artifact already stored", "id", id)
		o.publishLocked(Update{AssetID: id, Locator: locator, State: data.Completed()})
		return sub
	}

	o.cancelLocked()

	s := &session{id: uuid.NewString(), assetID: id, locator: locator}
	s.log = reqid.Logger(ctx, o.log).With("id", id, "session_id", s.id)
	o.session = s
	metrics.ActiveDownloads.Set(1)
	o.publishSessionLocked(s, data.Downloading(0))

	h, err := o.client.Begin(ctx, locator)
	if err != nil {
		s.log.Error("begin transfer", "err", err)
		o.endLocked(s)
		o.publishSessionLocked(s, data.Failed(err.Error(), data.FailureDownload))
		return sub
	}
	s.handle = h
	s.log.Info("download started", "source", locator)

	o.wg.Add(1)
	go o.watch(s, key)
	return sub
}

// watch forwards transfer events for s until its handle closes.
func (o *Orchestrator) watch(s *session, key string) {
	defer o.wg.Done()
	terminal := false
	for e := range s.handle.Events() {
		if o.handleEvent(s, key, e) {
			terminal = true
		}
	}
	if terminal {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != s {
		return
	}
	s.log.Error("transfer closed without a result")
	o.endLocked(s)
	o.publishSessionLocked(s, data.Failed(msgUnexpectedEnd, data.FailureDownload))
}

// handleEvent applies e if s is still the owned session and reports whether
// e was terminal.
func (o *Orchestrator) handleEvent(s *session, key string, e downloader.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != s {
		s.log.Debug("dropping stale transfer event", "type", e.Type)
		if e.Type == downloader.EventComplete {
			discardTemp(s.log, e.TempPath)
		}
		return e.Type != downloader.EventProgress
	}

	switch e.Type {
	case downloader.EventProgress:
		if e.Progress == nil {
			return false
		}
		f, ok := e.Progress.Fraction()
		if !ok || f <= s.last {
			return false
		}
		s.last = f
		o.publishSessionLocked(s, data.Downloading(f))
		return false

	case downloader.EventComplete:
		o.endLocked(s)
		if err := o.store.MoveIntoPlace(e.TempPath, key); err != nil {
			s.log.Error("move into place", "temp", e.TempPath, "err", err)
			discardTemp(s.log, e.TempPath)
			o.publishSessionLocked(s, data.Failed(err.Error(), data.FailureDownload))
			return true
		}
		s.log.Info("download complete")
		o.publishSessionLocked(s, data.Completed())
		return true

	case downloader.EventFailed:
		o.endLocked(s)
		msg := msgUnexpectedEnd
		if e.Err != nil {
			msg = e.Err.Error()
		}
		s.log.Error("download failed", "err", e.Err)
		o.publishSessionLocked(s, data.Failed(msg, data.FailureDownload))
		return true
	}
	return false
}

// CancelDownload aborts the active session. Without one it does nothing.
func (o *Orchestrator) CancelDownload() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()
}

func (o *Orchestrator) cancelLocked() {
	s := o.session
	if s == nil {
		return
	}
	o.endLocked(s)
	if s.handle != nil {
		s.handle.Abort()
	}
	s.log.Info("download cancelled")
	o.publishSessionLocked(s, data.NotStarted())
}

// endLocked releases session ownership.
func (o *Orchestrator) endLocked(s *session) {
	if o.session == s {
		o.session = nil
		metrics.ActiveDownloads.Set(0)
	}
}

// Active reports the asset currently being downloaded.
func (o *Orchestrator) Active() (id, locator string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return "", "", false
	}
	return o.session.assetID, o.session.locator, true
}

func (o *Orchestrator) VideoExists(id string) bool {
	id, err := data.ValidateAssetID(id)
	if err != nil {
		return false
	}
	return o.store.Exists(fp.Key(id))
}

// LocalPath maps id to its storage path whether or not the artifact
// exists. ok is false for invalid ids or when storage is unavailable.
func (o *Orchestrator) LocalPath(id string) (string, bool) {
	id, err := data.ValidateAssetID(id)
	if err != nil {
		return "", false
	}
	return o.store.ResolvePath(fp.Key(id))
}

// PlaybackURL returns the stored artifact's path when there is one and
// fallback otherwise.
func (o *Orchestrator) PlaybackURL(id, fallback string) string {
	if !o.VideoExists(id) {
		return fallback
	}
	if p, ok := o.LocalPath(id); ok {
		return p
	}
	return fallback
}

// DeleteDownloadedVideo removes the stored artifact for id and returns the
// resulting state, which is also published on the stream.
func (o *Orchestrator) DeleteDownloadedVideo(ctx context.Context, id string) data.DownloadState {
	lg := reqid.Logger(ctx, o.log)

	o.mu.Lock()
	defer o.mu.Unlock()

	id, err := data.ValidateAssetID(id)
	if err != nil {
		return data.Failed(err.Error(), data.FailureDeletion)
	}
	lg = lg.With("id", id)
	key := fp.Key(id)

	var st data.DownloadState
	switch {
	case !o.store.Exists(key):
		lg.Warn("delete requested for missing artifact")
		metrics.Deletions.WithLabelValues("missing").Inc()
		st = data.Failed(MsgArtifactMissing, data.FailureDeletion)
	default:
		if err := o.store.Remove(key); err != nil {
			lg.Error("delete artifact", "err", err)
			metrics.Deletions.WithLabelValues("failed").Inc()
			st = data.Failed(msgDeleteFailed+err.Error(), data.FailureDeletion)
		} else {
			lg.Info("artifact deleted")
			metrics.Deletions.WithLabelValues("deleted").Inc()
			st = data.NotStarted()
		}
	}
	if !o.closed {
		o.publishLocked(Update{AssetID: id, State: st})
	}
	return st
}

// Close cancels any active session, waits for its watcher and ends every
// subscription.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.cancelLocked()
	o.closed = true
	o.mu.Unlock()

	o.wg.Wait()
	o.hub.Close()
}

func (o *Orchestrator) publishSessionLocked(s *session, st data.DownloadState) {
	o.publishLocked(Update{AssetID: s.assetID, Locator: s.locator, SessionID: s.id, State: st})
}

func (o *Orchestrator) publishLocked(u Update) {
	if u.At.IsZero() {
		u.At = o.now()
	}
	o.hub.Publish(u)
}

func discardTemp(lg *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		lg.Warn("remove temp file", "path", path, "err", err)
	}
}
