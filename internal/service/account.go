package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/model"
	"github.com/iliyamo/crowdfund-auth/internal/queue"
	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

func requireOwner(actor utils.SessionClaims, userID string) error {
	if actor.UserID == "" {
		return UnauthorizedError("token_missing", nil)
	}
	if actor.UserID != userID {
		return ForbiddenError("not_owner")
	}
	return nil
}

// Profile returns the stored record for userID.
func (s *IdentityService) Profile(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, fromStore(err)
	}
	return u, nil
}

// UpdateProfile applies patch to the caller's own record.
func (s *IdentityService) UpdateProfile(ctx context.Context, actor utils.SessionClaims, userID string, patch model.ProfilePatch) (*model.User, error) {
	if err := requireOwner(actor, userID); err != nil {
		return nil, err
	}
	patch.Normalize()
	if patch.Empty() {
		return nil, ValidationError("empty_update")
	}
	if patch.Name != nil && *patch.Name == "" {
		return nil, ValidationError("name_required")
	}
	if f, limit := patch.TooLong(); f != "" {
		return nil, fieldTooLong(f, limit)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.store.UpdateProfile(sctx, userID, patch)
	if err != nil {
		return nil, fromStore(err)
	}
	return u, nil
}

// DeleteSelf removes the caller's own record. Tokens already issued stay
// valid until they expire.
func (s *IdentityService) DeleteSelf(ctx context.Context, actor utils.SessionClaims, userID string) error {
	if err := requireOwner(actor, userID); err != nil {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Delete(sctx, userID); err != nil {
		return fromStore(err)
	}
	for _, k := range []string{actor.Email, actor.Mobile} {
		if k == "" {
			continue
		}
		if err := s.codes.Delete(sctx, k); err != nil {
			logger.For(ctx, s.log).Warn("drop outstanding code failed", zap.Error(err))
		}
	}

	logger.For(ctx, s.log).Info("user deleted", zap.String("user_id", userID))
	s.publish(ctx, queue.KeyUserDeleted, queue.UserEvent{UserID: userID, Email: actor.Email})
	return nil
}

// ChangePassword replaces the password of a local account after checking
// the current one.
func (s *IdentityService) ChangePassword(ctx context.Context, actor utils.SessionClaims, current, next string) error {
	if actor.UserID == "" {
		return UnauthorizedError("token_missing", nil)
	}
	if current == "" || next == "" {
		return ValidationError("missing_fields")
	}
	if strings.TrimSpace(next) == "" {
		return ValidationError("invalid_password")
	}
	if len(next) > utils.MaxPasswordBytes {
		return ValidationError("password_too_long")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.store.GetByID(sctx, actor.UserID)
	if err != nil {
		return fromStore(err)
	}
	if u.Provider.Federated() || !u.HasPassword() {
		return ConflictError("google_account")
	}
	if !s.hasher.Verify(u.PasswordHash, current) {
		return InvalidCredentialError("invalid_password")
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(sctx, u.ID, hash); err != nil {
		return fromStore(err)
	}
	logger.For(ctx, s.log).Info("password changed", zap.String("user_id", u.ID))
	return nil
}
