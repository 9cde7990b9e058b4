package gates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
)

// DefaultProvider is recorded when a nonce arrives without a provider.
const DefaultProvider = "manychat"

// NonceRecorder stores consumed webhook nonces.
type NonceRecorder interface {
	// Record inserts the nonce atomically and returns sentinel.ErrAlreadyUsed
	// when it was already present.
	Record(ctx context.Context, provider, nonce string, at time.Time) error
	// Seen reports whether the nonce is stored, without recording it.
	Seen(ctx context.Context, nonce string) (bool, error)
}

// ReplayProtection (G5) consumes a nonce. The first call for a nonce passes
// and records it; every later call fails with AlreadyProcessed.
//
// The returned error is a storage failure, never a gate failure.
func ReplayProtection(ctx context.Context, rec NonceRecorder, provider, nonce string, now time.Time) (Result, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return fail(GateReplayProtection, dErrors.CodeBadRequest, ReasonMissingNonce,
			"nonce is required", nil), nil
	}
	if provider == "" {
		provider = DefaultProvider
	}
	err := rec.Record(ctx, provider, nonce, now)
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return fail(GateReplayProtection, dErrors.CodeAlreadyProcessed, ReasonReplay,
			"replay detected: event already processed",
			map[string]any{"nonce": nonce, "provider": provider}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("record nonce: %w", err)
	}
	return pass(GateReplayProtection), nil
}

// IsReplay reports whether nonce was already consumed without recording it.
func IsReplay(ctx context.Context, rec NonceRecorder, nonce string) (bool, error) {
	if strings.TrimSpace(nonce) == "" {
		return false, nil
	}
	return rec.Seen(ctx, strings.TrimSpace(nonce))
}
