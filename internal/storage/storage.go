package storage

import "errors"

// ErrUnavailable is returned when the backing directory cannot be resolved.
var ErrUnavailable = errors.New("storage directory unavailable")

// Gateway is the capability boundary over the artifact store. Keys are
// already filesystem-safe (see fp.Key); the gateway holds no policy.
type Gateway interface {
	Exists(key string) bool
	Remove(key string) error
	// MoveIntoPlace moves tempPath into the slot for key, replacing any
	// artifact already stored there.
	MoveIntoPlace(tempPath, key string) error
	// ResolvePath maps key to its storage path whether or not the artifact
	// exists. ok is false when the backing directory is unavailable.
	ResolvePath(key string) (path string, ok bool)
}
