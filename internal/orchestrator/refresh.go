package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/wardline/authcore/internal/audit"
	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/creds"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/risk"
	"github.com/wardline/authcore/internal/session"
)

// Refresh verifies a presented refresh token, re-assesses risk, and either
// steps up to MFA (when the score has jumped too far above the session's
// stored value) or rotates the token pair. A refresh token can be used at
// most once: Rotate fails if its fingerprint has already moved on.
func (o *Orchestrator) Refresh(ctx context.Context, refreshToken string, device Device, correlationID string) (*Result, error) {
	now := o.now()

	claims, err := o.tokens.Verify(refreshToken, auth.ScopeRefresh)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return failure(domain.ErrTokenExpired, correlationID, 0), nil
		}
		return failure(domain.ErrInvalidRefreshToken, correlationID, 0), nil
	}

	refreshFP := auth.Fingerprint(refreshToken)
	sess, err := o.sessions.GetByRefreshFP(ctx, refreshFP)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return failure(domain.ErrSessionNotFound, correlationID, 0), nil
		}
		return nil, fmt.Errorf("load session by refresh fp: %w", err)
	}
	if !sess.Active || now.After(sess.RefreshExpiresAt) {
		return failure(domain.ErrSessionExpired, correlationID, 0), nil
	}
	if sess.UserID != claims.UserID {
		return failure(domain.ErrInvalidRefreshToken, correlationID, 0), nil
	}

	user, err := o.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}

	factors := o.buildRiskFactors(ctx, user, creds.NormalizeEmail(user.Email), device, now)
	assessment := risk.Score(factors)

	threshold := o.cfg.RiskStepUpThreshold
	if threshold <= 0 {
		threshold = 40
	}
	if assessment.Score-sess.RiskScoreAtIssuance > threshold {
		challenge, cerr := o.issueDefaultChallenge(ctx, user, now)
		if cerr != nil {
			return nil, fmt.Errorf("issue step-up challenge: %w", cerr)
		}
		return &Result{Kind: ResultMFARequired, User: user, Challenge: challenge, RiskScore: assessment.Score}, nil
	}

	accessToken, newRefreshToken, _, _, err := o.tokens.CreatePair(user.ID, o.cfg.AccessTokenTTL, o.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint refreshed token pair: %w", err)
	}
	newAccessFP := auth.Fingerprint(accessToken)
	newRefreshFP := auth.Fingerprint(newRefreshToken)

	rotated, err := o.sessions.Rotate(ctx, sess.ID, refreshFP, newAccessFP, newRefreshFP,
		now.Add(o.cfg.AccessTokenTTL), now.Add(o.cfg.RefreshTokenTTL), assessment.Score)
	if err != nil {
		if errors.Is(err, session.ErrStaleRefresh) {
			return failure(domain.ErrInvalidRefreshToken, correlationID, assessment.Score), nil
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	if o.bus != nil {
		_ = o.bus.Publish(ctx, domain.EventTokenRefresh, &user.ID, correlationID, map[string]any{
			"session_id": rotated.ID.String(),
			"risk_score": assessment.Score,
		})
	}
	if o.audit != nil {
		o.audit.Log(ctx, audit.Entry{
			CorrelationID: correlationID,
			EventType:     domain.EventTokenRefresh,
			Actor:         user.ID.String(),
			Resource:      rotated.ID.String(),
			Outcome:       "success",
			RiskScore:     &assessment.Score,
			DeviceHash:    device.Fingerprint,
		})
	}

	return &Result{
		Kind:         ResultSuccess,
		User:         user,
		Session:      rotated,
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		RiskScore:    assessment.Score,
	}, nil
}
