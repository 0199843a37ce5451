package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tinoosan/vodcache/internal/data"
	"github.com/tinoosan/vodcache/internal/downloader"
	"github.com/tinoosan/vodcache/internal/metrics"
	"github.com/tinoosan/vodcache/internal/storage"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubClient hands out downloader.Streams the test drives by hand.
type stubClient struct {
	mu        sync.Mutex
	err       error
	newHandle func() downloader.Handle
	handles   []downloader.Handle
	locators  []string
}

func (c *stubClient) Begin(ctx context.Context, locator string) (downloader.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locators = append(c.locators, locator)
	if c.err != nil {
		return nil, c.err
	}
	var h downloader.Handle
	if c.newHandle != nil {
		h = c.newHandle()
	} else {
		h = downloader.NewStream(0, nil)
	}
	c.handles = append(c.handles, h)
	return h, nil
}

func (c *stubClient) stream(t *testing.T, i int) *downloader.Stream {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.handles) {
		t.Fatalf("transfer %d was never started (%d started)", i, len(c.handles))
	}
	return c.handles[i].(*downloader.Stream)
}

func (c *stubClient) begun() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locators)
}

// memStore is an in-memory storage.Gateway.
type memStore struct {
	mu          sync.Mutex
	items       map[string]bool
	removeErr   error
	moveErr     error
	removeCalls int
}

func newMemStore(keys ...string) *memStore {
	m := &memStore{items: map[string]bool{}}
	for _, k := range keys {
		m.items[k] = true
	}
	return m
}

func (m *memStore) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key]
}

func (m *memStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls++
	if m.removeErr != nil {
		return m.removeErr
	}
	delete(m.items, key)
	return nil
}

func (m *memStore) MoveIntoPlace(tempPath, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.moveErr != nil {
		return m.moveErr
	}
	m.items[key] = true
	return nil
}

func (m *memStore) ResolvePath(key string) (string, bool) { return "/store/" + key + ".mp4", true }

// leakyHandle ignores Abort so the orchestrator has to cope with events
// that arrive after it gave the session up.
type leakyHandle struct{ ch chan downloader.Event }

func (h *leakyHandle) Events() <-chan downloader.Event { return h.ch }
func (h *leakyHandle) Abort()                          {}

func next(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update")
	}
	return Update{}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case u, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected update: %s %v", u.AssetID, u.State)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func expectState(t *testing.T, sub *Subscription, id string, want data.DownloadState) Update {
	t.Helper()
	u := next(t, sub)
	if u.AssetID != id || u.State != want {
		t.Fatalf("got %s %v want %s %v", u.AssetID, u.State, id, want)
	}
	return u
}

func progress(done, total int64) downloader.Event {
	return downloader.Event{Type: downloader.EventProgress, Progress: &downloader.Progress{Completed: done, Total: total}}
}

func tempFile(t *testing.T, dir, body string) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "transfer-*.part")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(body); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	return f.Name()
}

func TestDownloadToCompletion(t *testing.T) {
	storeDir, tmpDir := t.TempDir(), t.TempDir()
	store := storage.NewFS(storeDir, ".mp4", discardLogger())
	cl := &stubClient{}
	o := NewOrchestrator(store, cl, discardLogger())
	defer o.Close()

	sub := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
	defer sub.Close()
	first := expectState(t, sub, "v1", data.Downloading(0))
	if first.SessionID == "" || first.Locator != "http://x/v1.mp4" {
		t.Fatalf("update missing session metadata: %#v", first)
	}
	if id, loc, ok := o.Active(); !ok || id != "v1" || loc != "http://x/v1.mp4" {
		t.Fatalf("Active() = %q %q %v", id, loc, ok)
	}

	st := cl.stream(t, 0)
	st.Report(progress(25, 100))
	st.Report(progress(25, 100))
	st.Report(progress(10, 100))
	st.Report(progress(60, 100))
	tmp := tempFile(t, tmpDir, "video-bytes")
	st.Report(downloader.Event{Type: downloader.EventComplete, TempPath: tmp})
	st.Close()

	expectState(t, sub, "v1", data.Downloading(0.25))
	expectState(t, sub, "v1", data.Downloading(0.6))
	last := expectState(t, sub, "v1", data.Completed())
	if last.SessionID != first.SessionID {
		t.Fatalf("session id changed within one attempt")
	}
	expectNone(t, sub)

	if !o.VideoExists("v1") {
		t.Fatalf("expected artifact after completion")
	}
	want := filepath.Join(storeDir, "v1.mp4")
	if got := o.PlaybackURL("v1", "http://x/v1.mp4"); got != want {
		t.Fatalf("PlaybackURL = %q want %q", got, want)
	}
	b, err := os.ReadFile(want)
	if err != nil || string(b) != "video-bytes" {
		t.Fatalf("stored artifact = %q, %v", b, err)
	}
	if _, _, ok := o.Active(); ok {
		t.Fatalf("session still active after completion")
	}
	if got := testutil.ToFloat64(metrics.ActiveDownloads); got != 0 {
		t.Fatalf("active_downloads = %v", got)
	}
}

func TestPlaybackURLFallsBackToRemote(t *testing.T) {
	o := NewOrchestrator(newMemStore(), &stubClient{}, discardLogger())
	defer o.Close()
	if got := o.PlaybackURL("v2", "http://x/v2.mp4"); got != "http://x/v2.mp4" {
		t.Fatalf("PlaybackURL = %q", got)
	}
	if p, ok := o.LocalPath("v2"); !ok || p != "/store/v2.mp4" {
		t.Fatalf("LocalPath = %q %v", p, ok)
	}
	if _, ok := o.LocalPath("  "); ok {
		t.Fatalf("blank id resolved to a path")
	}
}

func TestStartingAnotherAssetCancelsTheFirst(t *testing.T) {
	cl := &stubClient{}
	o := NewOrchestrator(newMemStore(), cl, discardLogger())
	defer o.Close()

	watcher := o.Subscribe()
	defer watcher.Close()

	subB := o.StartDownload(context.Background(), "B", "http://x/b.mp4")
	defer subB.Close()
	expectState(t, watcher, "B", data.Downloading(0))
	stB := cl.stream(t, 0)
	stB.Report(progress(30, 100))
	expectState(t, watcher, "B", data.Downloading(0.3))

	subA := o.StartDownload(context.Background(), "A", "http://x/a.mp4")
	defer subA.Close()

	expectState(t, watcher, "B", data.NotStarted())
	expectState(t, watcher, "A", data.Downloading(0))
	expectState(t, subA, "B", data.NotStarted())
	expectState(t, subA, "A", data.Downloading(0))

	select {
	case <-stB.Aborted():
	default:
		t.Fatalf("previous transfer was not aborted")
	}
	if stB.Report(progress(90, 100)) {
		t.Fatalf("aborted transfer accepted an event")
	}
	if id, _, _ := o.Active(); id != "A" {
		t.Fatalf("active asset = %q", id)
	}
}

func TestSameAssetStartIsNoop(t *testing.T) {
	cl := &stubClient{}
	o := NewOrchestrator(newMemStore(), cl, discardLogger())
	defer o.Close()

	sub1 := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
	defer sub1.Close()
	expectState(t, sub1, "v1", data.Downloading(0))
	cl.stream(t, 0).Report(progress(40, 100))
	expectState(t, sub1, "v1", data.Downloading(0.4))

	sub2 := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
	defer sub2.Close()
	expectNone(t, sub2)
	if n := cl.begun(); n != 1 {
		t.Fatalf("Begin called %d times", n)
	}

	cl.stream(t, 0).Report(progress(50, 100))
	expectState(t, sub1, "v1", data.Downloading(0.5))
	expectState(t, sub2, "v1", data.Downloading(0.5))
}

func TestExistingArtifactCompletesWithoutTransfer(t *testing.T) {
	cl := &stubClient{}
	o := NewOrchestrator(newMemStore("v1"), cl, discardLogger())
	defer o.Close()

	other := o.StartDownload(context.Background(), "v9", "http://x/v9.mp4")
	defer other.Close()
	expectState(t, other, "v9", data.Downloading(0))

	sub := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
	defer sub.Close()
	expectState(t, sub, "v1", data.Completed())
	expectNone(t, sub)
	if n := cl.begun(); n != 1 {
		t.Fatalf("Begin called %d times", n)
	}
	if id, _, _ := o.Active(); id != "v9" {
		t.Fatalf("stored artifact cancelled another session, active = %q", id)
	}
}

func TestCancelMidDownload(t *testing.T) {
	store := newMemStore()
	cl := &stubClient{}
	o := NewOrchestrator(store, cl, discardLogger())
	defer o.Close()

	sub := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
	defer sub.Close()
	expectState(t, sub, "v1", data.Downloading(0))
	st := cl.stream(t, 0)
	st.Report(progress(40, 100))
	expectState(t, sub, "v1", data.Downloading(0.4))

	o.CancelDownload()
	expectState(t, sub, "v1", data.NotStarted())
	if st.Report(downloader.Event{Type: downloader.EventComplete, TempPath: "/nope"}) {
		t.Fatalf("completion delivered after abort")
	}
	if o.VideoExists("v1") {
		t.Fatalf("artifact exists after cancel")
	}

	o.CancelDownload()
	expectNone(t, sub)
}

func TestTransferFailures(t *testing.T) {
	t.Run("reported failure", func(t *testing.T) {
		cl := &stubClient{}
		o := NewOrchestrator(newMemStore(), cl, discardLogger())
		defer o.Close()
		sub := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
		defer sub.Close()
		expectState(t, sub, "v1", data.Downloading(0))
		st := cl.stream(t, 0)
		st.Report(downloader.Event{Type: downloader.EventFailed, Err: errors.New("connection reset")})
		st.Close()
		expectState(t, sub, "v1", data.Failed("connection reset", data.FailureDownload))
		if o.VideoExists("v1") {
			t.Fatalf("artifact exists after failure")
		}
	})

	t.Run("begin error", func(t *testing.T) {
		cl := &stubClient{err: errors.New("unsupported locator scheme")}
		o := NewOrchestrator(newMemStore(), cl, discardLogger())
		defer o.Close()
		sub := o.StartDownload(context.Background(), "v1", "ftp://x/v1.mp4")
		defer sub.Close()
		expectState(t, sub, "v1", data.Downloading(0))
		expectState(t, sub, "v1", data.Failed("unsupported locator scheme", data.FailureDownload))
		if _, _, ok := o.Active(); ok {
			t.Fatalf("failed begin left a session behind")
		}
	})

	t.Run("stream closed without result", func(t *testing.T) {
		cl := &stubClient{}
		o := NewOrchestrator(newMemStore(), cl, discardLogger())
		defer o.Close()
		sub := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
		defer sub.Close()
		expectState(t, sub, "v1", data.Downloading(0))
		cl.stream(t, 0).Close()
		expectState(t, sub, "v1", data.Failed(msgUnexpectedEnd, data.FailureDownload))
	})

	t.Run("move failure discards temp file", func(t *testing.T) {
		store := newMemStore()
		store.moveErr = fmt.Errorf("rename: %w", os.ErrPermission)
		cl := &stubClient{}
		o := NewOrchestrator(store, cl, discardLogger())
		defer o.Close()
		sub := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
		defer sub.Close()
		expectState(t, sub, "v1", data.Downloading(0))

		tmp := tempFile(t, t.TempDir(), "partial")
		st := cl.stream(t, 0)
		st.Report(downloader.Event{Type: downloader.EventComplete, TempPath: tmp})
		st.Close()
		u := expectState(t, sub, "v1", data.Failed(store.moveErr.Error(), data.FailureDownload))
		if u.State.Failure != data.FailureDownload {
			t.Fatalf("failure kind = %q", u.State.Failure)
		}
		if _, err := os.Stat(tmp); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("temp file left behind: %v", err)
		}
	})
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	h := &leakyHandle{ch: make(chan downloader.Event, 1)}
	store := newMemStore()
	cl := &stubClient{newHandle: func() downloader.Handle { return h }}
	o := NewOrchestrator(store, cl, discardLogger())

	sub := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")
	defer sub.Close()
	expectState(t, sub, "v1", data.Downloading(0))
	o.CancelDownload()
	expectState(t, sub, "v1", data.NotStarted())

	tmp := tempFile(t, t.TempDir(), "late")
	h.ch <- downloader.Event{Type: downloader.EventComplete, TempPath: tmp}
	close(h.ch)
	o.Close()

	for u := range sub.C() {
		t.Fatalf("stale completion published: %v", u.State)
	}
	if store.Exists("v1") {
		t.Fatalf("stale completion stored an artifact")
	}
	if _, err := os.Stat(tmp); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale temp file left behind: %v", err)
	}
}

func TestDeleteDownloadedVideo(t *testing.T) {
	ctx := context.Background()

	t.Run("missing artifact never touches storage", func(t *testing.T) {
		store := newMemStore()
		o := NewOrchestrator(store, &stubClient{}, discardLogger())
		defer o.Close()
		before := testutil.ToFloat64(metrics.Deletions.WithLabelValues("missing"))

		got := o.DeleteDownloadedVideo(ctx, "v1")
		if got != data.Failed(MsgArtifactMissing, data.FailureDeletion) {
			t.Fatalf("state = %v", got)
		}
		if store.removeCalls != 0 {
			t.Fatalf("Remove called %d times", store.removeCalls)
		}
		if d := testutil.ToFloat64(metrics.Deletions.WithLabelValues("missing")) - before; d != 1 {
			t.Fatalf("missing deletions delta = %v", d)
		}
	})

	t.Run("permission error keeps artifact", func(t *testing.T) {
		store := newMemStore("v1")
		store.removeErr = fmt.Errorf("remove /store/v1.mp4: %w", os.ErrPermission)
		o := NewOrchestrator(store, &stubClient{}, discardLogger())
		defer o.Close()
		sub := o.Subscribe()
		defer sub.Close()

		got := o.DeleteDownloadedVideo(ctx, "v1")
		if !got.IsFailed() || got.Failure != data.FailureDeletion {
			t.Fatalf("state = %v", got)
		}
		expectState(t, sub, "v1", got)
		if !o.VideoExists("v1") {
			t.Fatalf("artifact presence changed")
		}
	})

	t.Run("success", func(t *testing.T) {
		store := newMemStore("v1")
		o := NewOrchestrator(store, &stubClient{}, discardLogger())
		defer o.Close()
		sub := o.Subscribe()
		defer sub.Close()

		if got := o.DeleteDownloadedVideo(ctx, "v1"); got != data.NotStarted() {
			t.Fatalf("state = %v", got)
		}
		expectState(t, sub, "v1", data.NotStarted())
		if o.VideoExists("v1") {
			t.Fatalf("artifact still present")
		}
		if got := o.PlaybackURL("v1", "http://x/v1.mp4"); got != "http://x/v1.mp4" {
			t.Fatalf("PlaybackURL after delete = %q", got)
		}
	})

	t.Run("blank id", func(t *testing.T) {
		o := NewOrchestrator(newMemStore(), &stubClient{}, discardLogger())
		defer o.Close()
		got := o.DeleteDownloadedVideo(ctx, " ")
		if !got.IsFailed() || got.Failure != data.FailureDeletion {
			t.Fatalf("state = %v", got)
		}
	})
}

func TestInvalidAssetIDFailsStart(t *testing.T) {
	cl := &stubClient{}
	o := NewOrchestrator(newMemStore(), cl, discardLogger())
	defer o.Close()
	sub := o.StartDownload(context.Background(), "", "http://x/v.mp4")
	defer sub.Close()
	u := next(t, sub)
	if !u.State.IsFailed() || u.State.Failure != data.FailureDownload {
		t.Fatalf("state = %v", u.State)
	}
	if cl.begun() != 0 {
		t.Fatalf("transfer started for a blank id")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	cl := &stubClient{}
	o := NewOrchestrator(newMemStore(), cl, discardLogger())
	sub := o.StartDownload(context.Background(), "v1", "http://x/v1.mp4")

	o.Close()
	expectState(t, sub, "v1", data.Downloading(0))
	expectState(t, sub, "v1", data.NotStarted())
	if _, ok := <-sub.C(); ok {
		t.Fatalf("subscription still open after Close")
	}

	late := o.StartDownload(context.Background(), "v2", "http://x/v2.mp4")
	if _, ok := <-late.C(); ok {
		t.Fatalf("closed orchestrator published an update")
	}
	if cl.begun() != 1 {
		t.Fatalf("closed orchestrator started a transfer")
	}
}
