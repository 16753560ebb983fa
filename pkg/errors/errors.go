package errors

import "errors"

// Sentinel errors shared across services. Handlers map these onto HTTP
// statuses; services wrap them with fmt.Errorf("%w: ...") for detail.
var (
	ErrExperimentNotFound  = errors.New("experiment not found")
	ErrGameNotFound        = errors.New("game session not found")
	ErrParticipantNotFound = errors.New("participant not found")

	ErrExperimentFull      = errors.New("experiment is full")
	ErrGameAlreadyStarted  = errors.New("game already started")
	ErrExperimentCompleted = errors.New("experiment already completed")
	ErrStaleVersion        = errors.New("stale game state version")

	ErrInvalidParameters = errors.New("invalid experiment parameters")

	ErrUnauthorized         = errors.New("unauthorized")
	ErrAdminNotFound        = errors.New("admin not found")
	ErrInvalidAdminPassword = errors.New("invalid admin password")
)
