package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tinoosan/vodcache/internal/reqid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// Events streams every orchestrator update to a websocket client as one
// JSON text message each, in stream order.
func (h *VideoHandler) Events(w http.ResponseWriter, r *http.Request) {
	// Attach before the handshake completes so the client misses nothing
	// published after its dial returns.
	sub := h.svc.Subscribe()
	defer sub.Close()

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	lg := reqid.Logger(r.Context(), h.l)
	lg.Info("events client connected", "remote", r.RemoteAddr)

	// Clients never send; reading only keeps control frames flowing and
	// cancels ctx once they go away.
	ctx := c.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			lg.Info("events client gone", "err", ctx.Err())
			return
		case u, ok := <-sub.C():
			if !ok {
				_ = c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c, u)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					lg.Warn("write event", "err", err)
				}
				return
			}
		}
	}
}
