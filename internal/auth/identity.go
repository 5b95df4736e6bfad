// ABOUTME: Identity verifier resolving a bearer credential to a learner profile
// ABOUTME: Combines token verification with a lookup in the learner store

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/tutor-gateway/internal/domain"
	"github.com/2389/tutor-gateway/internal/store"
)

// ErrUnknownLearner is returned when a valid token names a learner with no profile.
var ErrUnknownLearner = errors.New("unknown learner")

// ProfileVerifier verifies credentials and loads the learner behind them.
type ProfileVerifier struct {
	tokens   TokenVerifier
	learners store.LearnerStore
	logger   *slog.Logger
}

// NewProfileVerifier creates a verifier backed by tokens and learners.
func NewProfileVerifier(tokens TokenVerifier, learners store.LearnerStore, logger *slog.Logger) *ProfileVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileVerifier{
		tokens:   tokens,
		learners: learners,
		logger:   logger.With("component", "auth"),
	}
}

// Verify accepts either a raw token or an Authorization header value.
func (v *ProfileVerifier) Verify(ctx context.Context, credential string) (*domain.UserProfile, error) {
	token := strings.TrimSpace(credential)
	if strings.HasPrefix(token, "Bearer ") {
		var errMsg string
		if token, errMsg = extractBearerToken(token); errMsg != "" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidToken, errMsg)
		}
	}
	if token == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrInvalidToken)
	}

	userID, err := v.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	profile, err := v.learners.GetLearner(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		v.logger.Warn("token for unknown learner", "user_id", userID)
		return nil, fmt.Errorf("%w: %s", ErrUnknownLearner, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading learner: %w", err)
	}
	return profile, nil
}
