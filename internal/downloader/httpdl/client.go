// Package httpdl implements downloader.Client with plain HTTP GET requests
// streamed into temporary files.
package httpdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/vodcache/internal/downloadcfg"
	"github.com/tinoosan/vodcache/internal/downloader"
	"github.com/tinoosan/vodcache/internal/metrics"
	"github.com/tinoosan/vodcache/internal/reqid"
)

// ErrUnsupportedScheme is returned by Begin for locators that are not http(s).
var ErrUnsupportedScheme = errors.New("unsupported locator scheme")

// Client implements downloader.Client over net/http.
type Client struct {
	http    *http.Client
	tempDir string
	step    float64
	log     *slog.Logger
}

var _ downloader.Client = (*Client)(nil)

// New creates a Client. step is the minimum fraction delta between two
// progress events; tempDir empty means the OS temp dir.
func New(hc *http.Client, tempDir string, step float64, log *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Client{http: hc, tempDir: tempDir, step: step, log: log}
}

// NewFromConfig builds a Client whose transport bounds connection setup and
// response headers but never the body transfer.
func NewFromConfig(cfg downloadcfg.Config, log *slog.Logger) *Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
	}
	return New(&http.Client{Transport: tr}, cfg.TempDir, cfg.ProgressStep, log)
}

// HTTP exposes the underlying client, mainly so tests can swap the transport.
func (c *Client) HTTP() *http.Client { return c.http }

// Begin validates locator and starts the transfer in its own goroutine. The
// transfer keeps ctx's values but not its cancellation: only Abort stops it.
func (c *Client) Begin(ctx context.Context, locator string) (downloader.Handle, error) {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return nil, fmt.Errorf("parse locator: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse locator: missing host in %q", locator)
	}

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(tctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}

	lg := reqid.Logger(ctx, c.log).With("transfer_id", uuid.NewString(), "url", u.Redacted())
	// Unbuffered: an event is either received before Abort or never.
	st := downloader.NewStream(0, cancel)
	go c.run(req, st, cancel, lg)
	return st, nil
}

func (c *Client) run(req *http.Request, st *downloader.Stream, cancel context.CancelFunc, lg *slog.Logger) {
	defer cancel()
	start := time.Now()
	result := "failed"
	defer func() {
		metrics.TransferDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	fail := func(err error) {
		if isAborted(st) {
			result = "aborted"
			lg.Info("transfer aborted")
			return
		}
		lg.Error("transfer failed", "err", err)
		st.Report(downloader.Event{Type: downloader.EventFailed, Err: err})
		st.Close()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fail(err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fail(fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
		return
	}

	f, err := os.CreateTemp(c.tempDir, "vodcache-*.part")
	if err != nil {
		fail(fmt.Errorf("create temp file: %w", err))
		return
	}
	tmp := f.Name()
	discard := func() {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			lg.Warn("remove partial file", "path", tmp, "err", err)
		}
	}

	pw := &progressWriter{total: resp.ContentLength, step: c.step, report: st.Report}
	lg.Info("transfer started", "total", resp.ContentLength, "temp", tmp)
	_, err = io.Copy(io.MultiWriter(f, pw), resp.Body)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		discard()
		fail(err)
		return
	}
	if resp.ContentLength > 0 && pw.written != resp.ContentLength {
		discard()
		fail(fmt.Errorf("short body: got %d of %d bytes", pw.written, resp.ContentLength))
		return
	}

	if !st.Report(downloader.Event{Type: downloader.EventComplete, TempPath: tmp}) {
		discard()
		result = "aborted"
		lg.Info("transfer aborted after completion")
		return
	}
	st.Close()
	result = "complete"
	lg.Info("transfer complete", "bytes", pw.written, "dur_ms", time.Since(start).Milliseconds())
}

func isAborted(st *downloader.Stream) bool {
	select {
	case <-st.Aborted():
		return true
	default:
		return false
	}
}

// progressWriter counts bytes and reports fraction changes of at least step.
type progressWriter struct {
	total   int64
	written int64
	step    float64
	last    float64
	report  func(downloader.Event) bool
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n := len(b)
	p.written += int64(n)
	metrics.TransferBytes.Add(float64(n))

	prog := downloader.Progress{Completed: p.written, Total: p.total}
	f, ok := prog.Fraction()
	if !ok || f >= 1 || f-p.last < p.step || f <= p.last {
		return n, nil
	}
	p.last = f
	if !p.report(downloader.Event{Type: downloader.EventProgress, Progress: &prog}) {
		return n, downloader.ErrAborted
	}
	return n, nil
}
