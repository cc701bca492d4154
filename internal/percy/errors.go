package percy

import "errors"

// Error kinds named in the core's error taxonomy. Each is a sentinel that
// callers can match with errors.Is; concrete errors wrap one of these with
// additional context via fmt.Errorf("...: %w", ErrX).
var (
	ErrConfigValidation   = errors.New("config validation error")
	ErrBrowserLaunch      = errors.New("browser launch error")
	ErrNavigation         = errors.New("navigation error")
	ErrSnapshotDiscovery  = errors.New("snapshot discovery error")
	ErrResourceSkipped    = errors.New("resource skipped")
	ErrAPI                = errors.New("build API error")
	ErrNotRunning         = errors.New("percy core is not running")
	ErrAlreadyRunning     = errors.New("percy core is already running")
	ErrSnapshotValidation = errors.New("snapshot validation error")
)
