// ABOUTME: Sentinel errors returned by coordination operations
// ABOUTME: The HTTP layer maps each one onto a status code

package coordinator

import (
	"errors"
	"fmt"

	"github.com/2389/tutor-gateway/internal/session"
)

var (
	// ErrUnauthorized means the credential could not be verified.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionInvalid covers unknown, foreign, and inactive sessions alike,
	// so callers learn nothing about sessions they do not own.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrConflict means another turn for the session is in flight.
	ErrConflict = fmt.Errorf("coordination conflict: %w", session.ErrConflict)

	// ErrNoCapableAgents means no registered agent can serve the request kind.
	ErrNoCapableAgents = errors.New("no capable agents")

	// ErrDuplicateRequest means the request id was already seen for this user.
	ErrDuplicateRequest = errors.New("duplicate request")
)

// mapSessionError folds session store errors into coordinator sentinels.
func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrConflict):
		return ErrConflict
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrForbidden),
		errors.Is(err, session.ErrSessionInvalid),
		errors.Is(err, session.ErrLeaseReleased):
		return ErrSessionInvalid
	default:
		return err
	}
}
