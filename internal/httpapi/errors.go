package httpapi

import "errors"

var (
	errEmptyPath            = errors.New("httpapi: empty agent path")
	errMissingType          = errors.New("httpapi: event type is required")
	errBodyTooLarge         = errors.New("httpapi: request body exceeds limit")
	errStreamingUnsupported = errors.New("httpapi: response writer does not support streaming")
)
