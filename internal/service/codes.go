package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/metrics"
	"github.com/iliyamo/crowdfund-auth/internal/notify"
	"github.com/iliyamo/crowdfund-auth/internal/otp"
	"github.com/iliyamo/crowdfund-auth/internal/repository"
)

// RequestOneTimeCode sends a login code to an existing local account.
func (s *IdentityService) RequestOneTimeCode(ctx context.Context, rawID string) error {
	id, err := parseIdentifier(rawID)
	if err != nil {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	u, err := s.store.FindByEmailOrMobile(sctx, id.email, id.mobile)
	cancel()
	if err != nil {
		return fromStore(err)
	}
	if u.Provider.Federated() {
		return ConflictError("google_account")
	}
	return s.issueCode(ctx, id, notify.PurposeLogin)
}

// RequestRegistrationCode sends a verification code to an identifier that
// no account uses yet.
func (s *IdentityService) RequestRegistrationCode(ctx context.Context, rawID string) error {
	id, err := parseIdentifier(rawID)
	if err != nil {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	u, err := s.store.FindByEmailOrMobile(sctx, id.email, id.mobile)
	cancel()
	switch {
	case err == nil:
		if u.Provider.Federated() {
			return ConflictError("google_account")
		}
		if id.email != "" {
			return ConflictError("email_exists")
		}
		return ConflictError("mobile_exists")
	case !errors.Is(err, repository.ErrNotFound):
		return fromStore(err)
	}
	return s.issueCode(ctx, id, notify.PurposeRegister)
}

// VerifyOneTimeCode checks and consumes the code for identifier and returns
// the normalized identifier.
func (s *IdentityService) VerifyOneTimeCode(ctx context.Context, rawID, code string) (string, error) {
	id, err := parseIdentifier(rawID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(code) == "" {
		return "", ValidationError("otp_required")
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.consumeCode(sctx, id, code); err != nil {
		return "", err
	}
	return id.key(), nil
}

// consumeCode spends the outstanding code for id when code matches it.
// Too many wrong guesses burn the code.
func (s *IdentityService) consumeCode(ctx context.Context, id identifier, code string) error {
	ok, err := s.codes.CompareAndDelete(ctx, id.key(), strings.TrimSpace(code))
	switch {
	case errors.Is(err, otp.ErrAttemptsExceeded):
		return InvalidCredentialError("otp_attempts_exceeded")
	case err != nil:
		return StoreError(err)
	case !ok:
		return InvalidCredentialError("invalid_otp")
	}
	return nil
}

// issueCode stores a fresh code, replacing any outstanding one, and hands it
// to the notifier. A failed dispatch removes the stored code again so that
// no undelivered code stays valid.
func (s *IdentityService) issueCode(ctx context.Context, id identifier, purpose notify.Purpose) error {
	code, err := s.newCode()
	if err != nil {
		return err
	}
	log := logger.For(ctx, s.log).With(
		zap.String("channel", string(id.channel())), zap.String("purpose", string(purpose)))

	sctx, cancel := s.storeCtx(ctx)
	err = s.codes.Put(sctx, id.key(), code, s.otpTTL)
	cancel()
	if err != nil {
		return StoreError(err)
	}

	dctx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	err = s.notifier.Dispatch(dctx, notify.Message{
		Channel: id.channel(),
		To:      id.key(),
		Code:    code,
		Purpose: purpose,
	})
	cancel()
	if err != nil {
		metrics.OTPDeliveryFailures.WithLabelValues(string(id.channel())).Inc()
		rctx, cancel := s.storeCtx(context.WithoutCancel(ctx))
		if derr := s.codes.Revoke(rctx, id.key(), code); derr != nil {
			log.Error("rollback undelivered code failed", zap.Error(derr))
		}
		cancel()
		log.Warn("one-time code dispatch failed", zap.Error(err))
		return DeliveryError(err)
	}

	metrics.OTPIssued.WithLabelValues(string(purpose), string(id.channel())).Inc()
	log.Info("one-time code issued")
	return nil
}
