package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// openStream opens one model step against the first usable auth profile.
// Profiles are tried in priority order; a profile in cooldown is skipped.
// Failover only happens here, before the step has produced any output.
func (r *Runner) openStream(ctx context.Context, request LLMRequest, logger zerolog.Logger) (ModelStream, string, error) {
	ctx, span := tracing.StartSpan(ctx, "briefing/agent", "agent.open_stream",
		attribute.String("model", request.Model),
		attribute.Int("tools", len(request.Tools)),
	)
	defer span.End()

	profiles := r.profileSnapshot()
	var lastErr error
	tried := 0

	for _, profile := range profiles {
		if inCooldown(profile, time.Now()) {
			observability.SetProviderCooldown(profile.ID, true)
			logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}
		tried++

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Str("profile_id", profile.ID).Msg("Failed to create provider")
			r.markFailure(profile.ID)
			continue
		}

		ms, err := r.openWithRetry(ctx, provider, request, logger)
		if err == nil {
			r.markSuccess(profile.ID)
			observability.RecordModelStep(provider.Provider())
			span.SetAttributes(attribute.String("profile_id", profile.ID))
			return ms, provider.Provider(), nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		lastErr = err
		observability.RecordProviderError(provider.Provider())
		logger.Warn().Err(err).Str("profile_id", profile.ID).Msg("Auth profile failed")
		r.markFailure(profile.ID)
	}

	if tried == 0 {
		tracing.RecordError(span, ErrNoProfiles)
		return nil, "", fmt.Errorf("%w: all profiles in cooldown", ErrNoProfiles)
	}
	tracing.RecordError(span, lastErr)
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, "", fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// openWithRetry retries retryable open failures with exponential backoff.
func (r *Runner) openWithRetry(ctx context.Context, provider LLMProvider, request LLMRequest, logger zerolog.Logger) (ModelStream, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		ms, err := provider.Stream(ctx, request)
		if err == nil {
			return ms, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if !IsRetryableError(err) || attempt == r.opts.MaxRetries {
			break
		}

		delay := r.opts.RetryBaseDelay * time.Duration(1<<attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("provider", provider.Provider()).
			Msg("Retrying after error")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (r *Runner) profileSnapshot() []AuthProfile {
	r.authMu.RLock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	r.authMu.RUnlock()

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
	return profiles
}

func inCooldown(profile AuthProfile, now time.Time) bool {
	return profile.CooldownUntil != nil && now.UnixMilli() < *profile.CooldownUntil
}

// markSuccess resets the failure count of a profile.
func (r *Runner) markSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(profileID, false)
			return
		}
	}
}

// markFailure puts a profile in cooldown; the cooldown grows with each
// consecutive failure.
func (r *Runner) markFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount++
			until := time.Now().Add(r.opts.Cooldown * time.Duration(r.authProfiles[i].FailureCount)).UnixMilli()
			r.authProfiles[i].CooldownUntil = &until
			observability.SetProviderCooldown(profileID, true)
			return
		}
	}
}

// Profiles returns a copy of the auth profiles with their current
// failure counts and cooldowns.
func (r *Runner) Profiles() []AuthProfile {
	return r.profileSnapshot()
}
