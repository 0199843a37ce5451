// Package playback drives a live player from the orchestrator's state
// stream and swaps its source between the remote locator and the stored
// artifact without losing the viewer's position.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Session is the live media player. Implementations own decoding and
// rendering; the controller only needs these controls.
type Session interface {
	CurrentPosition() time.Duration
	IsPlaying() bool
	// ReplaceSource swaps the active media source in one step.
	ReplaceSource(locator string) error
	// Seek moves to pos and calls done once the seek settles.
	Seek(pos time.Duration, done func(error))
	Play()
	Pause()
}

// Indicator names where the session is currently reading from.
type Indicator string

const (
	IndicatorNone      Indicator = ""
	IndicatorStreaming Indicator = "Streaming"
	IndicatorLocal     Indicator = "Local"
)

// Source is a playback locator tagged with where it lives.
type Source struct {
	Locator string
	Local   bool
}

func Remote(locator string) Source { return Source{Locator: locator} }

func Local(path string) Source { return Source{Locator: path, Local: true} }

func (s Source) Indicator() Indicator {
	if s.Local {
		return IndicatorLocal
	}
	return IndicatorStreaming
}

// SeekError reports that the source was swapped but the session could not
// return to the captured position. Playback stays paused where it landed.
type SeekError struct {
	Position time.Duration
	Err      error
}

func (e *SeekError) Error() string {
	return fmt.Sprintf("seek to %s after source change: %v", e.Position, e.Err)
}

func (e *SeekError) Unwrap() error { return e.Err }

// IsSeekError reports whether err only failed to restore the position.
func IsSeekError(err error) bool {
	var se *SeekError
	return errors.As(err, &se)
}

// Substitute swaps s onto src while keeping position and play state:
// capture, pause, replace, seek, and resume only once the seek succeeded.
//
// The returned indicator is src's once the replace succeeded, even when the
// seek then fails with a *SeekError. ctx bounds the wait for the seek.
func Substitute(ctx context.Context, s Session, src Source) (Indicator, error) {
	pos := s.CurrentPosition()
	wasPlaying := s.IsPlaying()
	if wasPlaying {
		s.Pause()
	}

	if err := s.ReplaceSource(src.Locator); err != nil {
		if wasPlaying {
			s.Play()
		}
		return IndicatorNone, fmt.Errorf("replace source: %w", err)
	}

	done := make(chan error, 1)
	s.Seek(pos, func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			return src.Indicator(), &SeekError{Position: pos, Err: err}
		}
	case <-ctx.Done():
		return src.Indicator(), &SeekError{Position: pos, Err: ctx.Err()}
	}
	if wasPlaying {
		s.Play()
	}
	return src.Indicator(), nil
}
