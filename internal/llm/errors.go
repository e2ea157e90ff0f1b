package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

// classifyStatus maps an HTTP status from a provider onto the error taxonomy.
// Throttling and server faults are worth retrying, other client errors are not.
func classifyStatus(provider string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return fmt.Errorf("%w: %s returned %d: %w", models.ErrProviderUnavailable, provider, status, err)
	case status >= 400:
		return fmt.Errorf("%w: %s returned %d: %w", models.ErrProviderRejected, provider, status, err)
	}
	return unavailable(provider, err)
}

// unavailable wraps a transport-level failure. Context cancellation stays
// visible to errors.Is through the join.
func unavailable(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", provider, err)
	}
	return fmt.Errorf("%w: %s: %w", models.ErrProviderUnavailable, provider, err)
}

func rejected(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrProviderRejected, provider, err)
}
