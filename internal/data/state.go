package data

import (
	"errors"
	"fmt"
	"strings"
)

// StateKind tags which variant of DownloadState is populated.
type StateKind string

const (
	KindNotStarted  StateKind = "NotStarted"
	KindDownloading StateKind = "Downloading"
	KindCompleted   StateKind = "Completed"
	KindFailed      StateKind = "Failed"
)

// FailureKind distinguishes a failed transfer from a failed deletion.
type FailureKind string

const (
	FailureDownload FailureKind = "download"
	FailureDeletion FailureKind = "deletion"
)

// ErrInvalidAssetID is returned when an asset identifier is empty or blank.
var ErrInvalidAssetID = errors.New("invalid asset id")

// DownloadState is the observable state of one asset's local copy.
//
// Only the fields belonging to Kind are meaningful: Progress for
// Downloading, Message and Failure for Failed.
type DownloadState struct {
	Kind     StateKind   `json:"kind"`
	Progress float64     `json:"progress,omitempty"`
	Message  string      `json:"message,omitempty"`
	Failure  FailureKind `json:"failure,omitempty"`
}

func NotStarted() DownloadState { return DownloadState{Kind: KindNotStarted} }

func Completed() DownloadState { return DownloadState{Kind: KindCompleted} }

// Downloading returns an in-progress state with p clamped to [0,1].
func Downloading(p float64) DownloadState {
	return DownloadState{Kind: KindDownloading, Progress: clamp(p)}
}

func Failed(msg string, kind FailureKind) DownloadState {
	if kind == "" {
		kind = FailureDownload
	}
	return DownloadState{Kind: KindFailed, Message: msg, Failure: kind}
}

func (s DownloadState) IsDownloading() bool { return s.Kind == KindDownloading }

func (s DownloadState) HasCompleted() bool { return s.Kind == KindCompleted }

func (s DownloadState) IsFailed() bool { return s.Kind == KindFailed }

// IsTerminal reports whether no further automatic transition follows s.
func (s DownloadState) IsTerminal() bool {
	return s.Kind == KindCompleted || s.Kind == KindFailed
}

// Fraction is the progress to render: 1 once completed, the transfer
// fraction while downloading and 0 otherwise.
func (s DownloadState) Fraction() float64 {
	switch s.Kind {
	case KindDownloading:
		return s.Progress
	case KindCompleted:
		return 1
	default:
		return 0
	}
}

func (s DownloadState) String() string {
	switch s.Kind {
	case KindDownloading:
		return fmt.Sprintf("Downloading(%.2f)", s.Progress)
	case KindFailed:
		return fmt.Sprintf("Failed(%s: %s)", s.Failure, s.Message)
	case "":
		return string(KindNotStarted)
	default:
		return string(s.Kind)
	}
}

// ValidateAssetID trims id and rejects blank identifiers.
func ValidateAssetID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidAssetID
	}
	return id, nil
}

func clamp(p float64) float64 {
	// NaN compares false against everything, treat it as no progress.
	if p != p || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
