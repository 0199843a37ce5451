package data

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestDownloadingClampsProgress(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.4, 0.4},
		{1, 1},
		{3, 1},
		{math.NaN(), 0},
	}
	for _, tc := range tests {
		if got := Downloading(tc.in).Progress; got != tc.want {
			t.Fatalf("Downloading(%v).Progress = %v want %v", tc.in, got, tc.want)
		}
	}
}

func TestFraction(t *testing.T) {
	if got := Downloading(0.25).Fraction(); got != 0.25 {
		t.Fatalf("downloading fraction = %v", got)
	}
	if got := Completed().Fraction(); got != 1 {
		t.Fatalf("completed fraction = %v", got)
	}
	if got := Failed("x", FailureDownload).Fraction(); got != 0 {
		t.Fatalf("failed fraction = %v", got)
	}
	if got := NotStarted().Fraction(); got != 0 {
		t.Fatalf("not started fraction = %v", got)
	}
}

func TestFailedDefaultsToDownloadKind(t *testing.T) {
	s := Failed("boom", "")
	if s.Failure != FailureDownload {
		t.Fatalf("failure kind = %q", s.Failure)
	}
	if !s.IsTerminal() || !s.IsFailed() {
		t.Fatalf("failed state should be terminal: %v", s)
	}
	if Downloading(0.1).IsTerminal() || NotStarted().IsTerminal() {
		t.Fatalf("non-terminal states reported terminal")
	}
}

func TestValidateAssetID(t *testing.T) {
	if _, err := ValidateAssetID("   "); !errors.Is(err, ErrInvalidAssetID) {
		t.Fatalf("expected ErrInvalidAssetID, got %v", err)
	}
	id, err := ValidateAssetID(" v1 ")
	if err != nil || id != "v1" {
		t.Fatalf("ValidateAssetID = %q, %v", id, err)
	}
}

func TestAssetApplyAndState(t *testing.T) {
	now := time.Now()
	a := &Asset{ID: "v1"}

	a.Apply(Downloading(0.3), "http://x/v1.mp4", now)
	if a.Status != KindDownloading || a.Progress != 0.3 || a.Source != "http://x/v1.mp4" {
		t.Fatalf("unexpected record: %#v", a)
	}

	a.Apply(Failed("disk full", FailureDownload), "", now)
	if a.Source != "http://x/v1.mp4" {
		t.Fatalf("empty source overwrote record source: %q", a.Source)
	}
	if got := a.State(); got != Failed("disk full", FailureDownload) {
		t.Fatalf("State() = %v", got)
	}

	a.Apply(Completed(), "", now)
	if a.LastError != "" || a.FailureKind != "" || a.Progress != 1 {
		t.Fatalf("completion did not clear failure: %#v", a)
	}
	if !a.State().HasCompleted() {
		t.Fatalf("State() = %v", a.State())
	}

	a.Apply(Failed("permission denied", FailureDeletion), "", now)
	if a.Status != KindCompleted {
		t.Fatalf("deletion failure changed status to %v", a.Status)
	}
	if a.LastError != "permission denied" || a.FailureKind != FailureDeletion {
		t.Fatalf("deletion failure not recorded: %#v", a)
	}
}
