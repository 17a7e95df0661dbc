package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/model"
	"github.com/iliyamo/crowdfund-auth/internal/queue"
	"github.com/iliyamo/crowdfund-auth/internal/repository"
	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

// RegisterInput carries the password registration fields.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Mobile   string
}

// Register creates a local account. The email pre-check only exits early;
// the unique index decides concurrent registrations.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (model.UserSummary, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" || strings.TrimSpace(in.Mobile) == "" {
		return model.UserSummary{}, ValidationError("missing_fields")
	}
	if len(in.Password) > utils.MaxPasswordBytes {
		return model.UserSummary{}, ValidationError("password_too_long")
	}
	if utf8.RuneCountInString(name) > model.MaxNameLen {
		return model.UserSummary{}, fieldTooLong("name", model.MaxNameLen)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return model.UserSummary{}, err
	}
	mobile, err := normalizeMobile(in.Mobile)
	if err != nil {
		return model.UserSummary{}, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return model.UserSummary{}, ConflictError("email_exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return model.UserSummary{}, fromStore(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.UserSummary{}, err
	}
	u := &model.User{
		Name:         name,
		Email:        &email,
		Mobile:       &mobile,
		PasswordHash: hash,
		Provider:     model.ProviderLocal,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return model.UserSummary{}, fromStore(err)
	}

	logger.For(ctx, s.log).Info("user registered", zap.String("user_id", u.ID))
	s.publish(ctx, queue.KeyUserRegistered, queue.UserEvent{
		UserID: u.ID, Email: email, Name: name, Provider: string(u.Provider),
	})
	return u.Summary(), nil
}

// AuthenticateByPassword resolves email or mobile (email wins when both
// match different records) and checks the password. Federated accounts
// never pass, whatever password is presented.
func (s *IdentityService) AuthenticateByPassword(ctx context.Context, email, mobile, password string) (sess Session, err error) {
	defer func() { observeAuth("password", err) }()

	email, mobile, err = lookupKeys(email, mobile)
	if err != nil {
		return Session{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.store.FindByEmailOrMobile(sctx, email, mobile)
	if err != nil {
		return Session{}, fromStore(err)
	}

	if u.Provider.Federated() || !u.HasPassword() {
		return Session{}, InvalidCredentialError("password_not_set")
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return Session{}, InvalidCredentialError("invalid_password")
	}
	return s.IssueSession(u)
}

// AuthenticateByOneTimeCode signs in the account owning identifier when
// code matches the outstanding one. The code is consumed on success.
func (s *IdentityService) AuthenticateByOneTimeCode(ctx context.Context, rawID, code string) (sess Session, err error) {
	defer func() { observeAuth("otp", err) }()

	id, err := parseIdentifier(rawID)
	if err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(code) == "" {
		return Session{}, ValidationError("otp_required")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.store.FindByEmailOrMobile(sctx, id.email, id.mobile)
	if err != nil {
		return Session{}, fromStore(err)
	}
	if err := s.consumeCode(sctx, id, code); err != nil {
		return Session{}, err
	}
	return s.IssueSession(u)
}

// LoginInput is the body of the merged login endpoint.
type LoginInput struct {
	Email    string
	Mobile   string
	Password string
	OTP      string
}

// Login uses the one-time code path when a code is present and the
// password path otherwise.
func (s *IdentityService) Login(ctx context.Context, in LoginInput) (Session, error) {
	switch {
	case strings.TrimSpace(in.OTP) != "":
		id := in.Email
		if strings.TrimSpace(id) == "" {
			id = in.Mobile
		}
		return s.AuthenticateByOneTimeCode(ctx, id, in.OTP)
	case in.Password != "":
		return s.AuthenticateByPassword(ctx, in.Email, in.Mobile, in.Password)
	default:
		return Session{}, ValidationError("credentials_required")
	}
}

// FederatedClaims is what a provider asserts about a signed-in user.
type FederatedClaims struct {
	Provider  model.AuthProvider
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// AuthenticateFederated resolves provider claims to one record. Email is
// the only linking key: an existing account with that email is moved to
// the provider, otherwise a password-less account is created. Repeated
// calls with the same claims return the same record.
func (s *IdentityService) AuthenticateFederated(ctx context.Context, c FederatedClaims) (u *model.User, err error) {
	defer func() { observeAuth(string(c.Provider), err) }()

	if strings.TrimSpace(c.Email) == "" {
		return nil, ValidationError("no_email")
	}
	if !c.Provider.Federated() {
		return nil, ValidationError("unknown_provider")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, ValidationError("no_subject")
	}
	email, err := normalizeEmail(c.Email)
	if err != nil {
		return nil, err
	}
	// an over-long avatar is dropped and an over-long name clipped
	var avatar *string
	if a := strings.TrimSpace(c.AvatarURL); a != "" && utf8.RuneCountInString(a) <= model.MaxAvatarLen {
		avatar = model.StrPtr(a)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	existing, err := s.store.GetByEmail(sctx, email)
	switch {
	case err == nil:
		return s.link(ctx, sctx, existing, c, email, avatar)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fromStore(err)
	}

	name := model.Truncate(strings.TrimSpace(c.Name), model.MaxNameLen)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	subject := c.Subject
	u = &model.User{
		Name:       name,
		Email:      &email,
		Provider:   c.Provider,
		ProviderID: &subject,
		AvatarURL:  avatar,
	}
	err = s.store.Create(sctx, u)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrEmailExists):
		// lost a race with a concurrent first login or registration
		existing, err := s.store.GetByEmail(sctx, email)
		if err != nil {
			return nil, fromStore(err)
		}
		return s.link(ctx, sctx, existing, c, email, avatar)
	case errors.Is(err, repository.ErrDuplicate):
		return nil, ConflictError("provider_account_exists")
	default:
		return nil, fromStore(err)
	}

	logger.For(ctx, s.log).Info("federated user created",
		zap.String("user_id", u.ID), zap.String("provider", string(c.Provider)))
	s.publish(ctx, queue.KeyUserRegistered, queue.UserEvent{
		UserID: u.ID, Email: email, Name: name, Provider: string(c.Provider),
	})
	return u, nil
}

func (s *IdentityService) link(ctx, sctx context.Context, existing *model.User, c FederatedClaims, email string, avatar *string) (*model.User, error) {
	u, err := s.store.LinkFederated(sctx, email, c.Provider, c.Subject, avatar)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ConflictError("provider_account_exists")
		}
		return nil, fromStore(err)
	}
	if existing.Provider != c.Provider {
		logger.For(ctx, s.log).Info("account linked to provider",
			zap.String("user_id", u.ID), zap.String("provider", string(c.Provider)))
		s.publish(ctx, queue.KeyUserLinked, queue.UserEvent{
			UserID: u.ID, Email: email, Provider: string(c.Provider),
		})
	}
	return u, nil
}

// lookupKeys validates the non-empty keys of a password login.
func lookupKeys(email, mobile string) (string, string, error) {
	var err error
	if strings.TrimSpace(email) == "" && strings.TrimSpace(mobile) == "" {
		return "", "", ValidationError("identifier_required")
	}
	if strings.TrimSpace(email) != "" {
		if email, err = normalizeEmail(email); err != nil {
			return "", "", err
		}
	}
	if strings.TrimSpace(mobile) != "" {
		if mobile, err = normalizeMobile(mobile); err != nil {
			return "", "", err
		}
	}
	return email, mobile, nil
}
