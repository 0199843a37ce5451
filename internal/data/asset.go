package data

import (
	"encoding/json"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("asset not found")

// Asset is the ledger record kept for every asset the orchestrator has
// reported on.
type Asset struct {
	ID          string      `json:"id"`
	Source      string      `json:"source,omitempty"`
	Status      StateKind   `json:"status"`
	Progress    float64     `json:"progress"`
	LastError   string      `json:"lastError,omitempty"`
	FailureKind FailureKind `json:"failureKind,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type Assets []*Asset

// Apply folds a state transition into the record. Source is only replaced
// when a non-empty locator is supplied. A failed deletion leaves the
// artifact where it was, so it only records the error.
func (a *Asset) Apply(s DownloadState, source string, at time.Time) {
	if source != "" {
		a.Source = source
	}
	a.UpdatedAt = at
	if s.IsFailed() && s.Failure == FailureDeletion {
		a.LastError = s.Message
		a.FailureKind = s.Failure
		return
	}
	a.Status = s.Kind
	a.Progress = s.Fraction()
	if s.IsFailed() {
		a.LastError = s.Message
		a.FailureKind = s.Failure
	} else {
		a.LastError = ""
		a.FailureKind = ""
	}
}

// State rebuilds the DownloadState the record was last updated with.
func (a *Asset) State() DownloadState {
	switch a.Status {
	case KindDownloading:
		return Downloading(a.Progress)
	case KindCompleted:
		return Completed()
	case KindFailed:
		return Failed(a.LastError, a.FailureKind)
	default:
		return NotStarted()
	}
}

func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func (as Assets) Clone() Assets {
	out := make(Assets, 0, len(as))
	for _, a := range as {
		out = append(out, a.Clone())
	}
	return out
}

func (as *Assets) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(as) }

func (a *Asset) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(a) }
