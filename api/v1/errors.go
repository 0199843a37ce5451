package v1

import "errors"

var (
	ErrStartCtx       = errors.New("download request missing in context")
	ErrContentType    = errors.New("Content-Type must be application/json")
	ErrSourceRequired = errors.New("source is required")
	ErrSourceScheme   = errors.New("source must be an http or https URL")
	ErrNoActive       = errors.New("no active download")
)
