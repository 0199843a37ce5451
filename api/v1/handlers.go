package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tinoosan/vodcache/internal/data"
	"github.com/tinoosan/vodcache/internal/repo"
	"github.com/tinoosan/vodcache/internal/service"
)

const firstStateTimeout = 2 * time.Second

// VideoHandler exposes the orchestrator and the asset ledger over HTTP.
type VideoHandler struct {
	l      *slog.Logger
	svc    service.Downloads
	ledger repo.AssetReader
}

func NewVideoHandler(l *slog.Logger, svc service.Downloads, ledger repo.AssetReader) *VideoHandler {
	if l == nil {
		l = slog.Default()
	}
	return &VideoHandler{l: l, svc: svc, ledger: ledger}
}

type videoResponse struct {
	ID          string             `json:"id"`
	Exists      bool               `json:"exists"`
	LocalPath   string             `json:"localPath,omitempty"`
	PlaybackURL string             `json:"playbackUrl,omitempty"`
	State       data.DownloadState `json:"state"`
}

type stateResponse struct {
	ID    string             `json:"id"`
	State data.DownloadState `json:"state"`
}

type activeResponse struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

func (h *VideoHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	assets, err := h.ledger.List(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to list videos", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := assets.ToJSON(w); err != nil {
		markErr(w, err)
		http.Error(w, "Unable to marshal json", http.StatusInternalServerError)
	}
}

func (h *VideoHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	resp := videoResponse{
		ID:          id,
		Exists:      h.svc.VideoExists(id),
		PlaybackURL: h.svc.PlaybackURL(id, r.URL.Query().Get("fallback")),
		State:       data.NotStarted(),
	}
	if p, ok := h.svc.LocalPath(id); ok {
		resp.LocalPath = p
	}
	a, err := h.ledger.Get(r.Context(), id)
	switch {
	case err == nil:
		resp.State = a.State()
	case !errors.Is(err, data.ErrNotFound):
		markErr(w, err)
		http.Error(w, "failed to load video", http.StatusInternalServerError)
		return
	}
	_ = writeJSON(w, http.StatusOK, resp)
}

// StartDownload answers with the first state the orchestrator reports for
// the asset, usually Downloading(0) or Completed.
func (h *VideoHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := r.Context().Value(ctxKeyStart{}).(startBody)
	if !ok {
		markErr(w, ErrStartCtx)
		http.Error(w, ErrStartCtx.Error(), http.StatusInternalServerError)
		return
	}

	if active, _, ok := h.svc.Active(); ok && active == id {
		_ = writeJSON(w, http.StatusAccepted, stateResponse{ID: id, State: h.ledgerState(r, id, data.Downloading(0))})
		return
	}

	sub := h.svc.StartDownload(r.Context(), id, body.Source)
	defer sub.Close()
	timeout := time.NewTimer(firstStateTimeout)
	defer timeout.Stop()
	for {
		select {
		case u, ok := <-sub.C():
			if !ok {
				markErr(w, service.ErrClosed)
				http.Error(w, service.ErrClosed.Error(), http.StatusServiceUnavailable)
				return
			}
			if u.AssetID != id {
				continue
			}
			_ = writeJSON(w, http.StatusAccepted, stateResponse{ID: id, State: u.State})
			return
		case <-timeout.C:
			_ = writeJSON(w, http.StatusAccepted, stateResponse{ID: id, State: h.ledgerState(r, id, data.Downloading(0))})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *VideoHandler) ledgerState(r *http.Request, id string, def data.DownloadState) data.DownloadState {
	a, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		return def
	}
	return a.State()
}

func (h *VideoHandler) CancelActive(w http.ResponseWriter, r *http.Request) {
	h.svc.CancelDownload()
	w.WriteHeader(http.StatusNoContent)
}

func (h *VideoHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	id, src, ok := h.svc.Active()
	if !ok {
		markErr(w, ErrNoActive)
		http.Error(w, ErrNoActive.Error(), http.StatusNotFound)
		return
	}
	_ = writeJSON(w, http.StatusOK, activeResponse{ID: id, Source: src})
}

func (h *VideoHandler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st := h.svc.DeleteDownloadedVideo(r.Context(), id)
	status := http.StatusOK
	if st.IsFailed() {
		markErr(w, errors.New(st.Message))
		status = http.StatusInternalServerError
		if st.Message == service.MsgArtifactMissing {
			status = http.StatusNotFound
		}
	}
	_ = writeJSON(w, status, stateResponse{ID: id, State: st})
}
