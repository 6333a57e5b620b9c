package models

import "errors"

var (
	// ErrEnvironmentMismatch means the browser and its driver cannot work
	// together. Fatal for the whole run.
	ErrEnvironmentMismatch = errors.New("browser environment mismatch")

	// ErrStartup means the browser process could not be launched. Fatal for
	// the whole run.
	ErrStartup = errors.New("browser startup failed")

	// ErrBridgeUnavailable means the companion extension did not answer.
	// Fatal for the current video only.
	ErrBridgeUnavailable = errors.New("extension bridge unavailable")

	// ErrExpansionTimeout means the extension did not acknowledge an expand
	// request in time. The cycle continues with whatever is rendered.
	ErrExpansionTimeout = errors.New("extension expansion timed out")

	// ErrDOMRead is a transient failure reading page state.
	ErrDOMRead = errors.New("dom read failed")

	// ErrArtifactInvalid is returned when an artifact fails validation
	// before being written.
	ErrArtifactInvalid = errors.New("artifact invalid")
)

// IsEnvironmentFatal reports whether err should abort the whole run.
func IsEnvironmentFatal(err error) bool {
	return errors.Is(err, ErrEnvironmentMismatch) || errors.Is(err, ErrStartup)
}
