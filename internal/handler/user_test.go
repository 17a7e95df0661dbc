package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/middleware"
	"github.com/iliyamo/crowdfund-auth/internal/model"
	"github.com/iliyamo/crowdfund-auth/internal/service"
	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

// stubIdentity returns canned results and records what it was called with.
type stubIdentity struct {
	err       error
	verified  string
	user      *model.User
	gotPatch  model.ProfilePatch
	gotLogin  service.LoginInput
	gotActor  utils.SessionClaims
	gotTarget string
}

func (s *stubIdentity) Register(_ context.Context, in service.RegisterInput) (model.UserSummary, error) {
	if s.err != nil {
		return model.UserSummary{}, s.err
	}
	return model.UserSummary{ID: "u1", Name: in.Name, Email: in.Email}, nil
}

func (s *stubIdentity) Login(_ context.Context, in service.LoginInput) (service.Session, error) {
	s.gotLogin = in
	return service.Session{Token: "tok"}, s.err
}

func (s *stubIdentity) RequestOneTimeCode(context.Context, string) error      { return s.err }
func (s *stubIdentity) RequestRegistrationCode(context.Context, string) error { return s.err }

func (s *stubIdentity) VerifyOneTimeCode(_ context.Context, id, _ string) (string, error) {
	return id, s.err
}

func (s *stubIdentity) Profile(context.Context, string) (*model.User, error) { return s.user, s.err }

func (s *stubIdentity) UpdateProfile(_ context.Context, actor utils.SessionClaims, userID string, p model.ProfilePatch) (*model.User, error) {
	s.gotActor, s.gotTarget, s.gotPatch = actor, userID, p
	return s.user, s.err
}

func (s *stubIdentity) DeleteSelf(_ context.Context, actor utils.SessionClaims, userID string) error {
	s.gotActor, s.gotTarget = actor, userID
	return s.err
}

func (s *stubIdentity) ChangePassword(context.Context, utils.SessionClaims, string, string) error {
	return s.err
}

func call(t *testing.T, h echo.HandlerFunc, method, target, body string, claims *utils.Claims) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if claims != nil {
		c.Set(middleware.ClaimsKey, claims)
	}
	require.NoError(t, h(c))
	return rec
}

func owner() *utils.Claims {
	return &utils.Claims{Version: utils.ClaimsVersion, UserID: "u1", Email: "a@x.io"}
}

func TestRegisterCreated(t *testing.T) {
	h := NewUserHandler(&stubIdentity{}, zap.NewNop())
	rec := call(t, h.Register, http.MethodPost, "/user/register",
		`{"name":"Ann","email":"a@x.io","password":"pw","mobile":"+15550001111"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"u1"`)
	assert.NotContains(t, rec.Body.String(), "pw")
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"validation", service.ValidationError("missing_fields"), http.StatusBadRequest, "missing_fields"},
		{"password too long", service.ValidationError("password_too_long"), http.StatusBadRequest, "password_too_long"},
		{"field too long", &service.Error{Kind: service.KindValidation, Reason: "field_too_long", Err: assert.AnError}, http.StatusBadRequest, "field_too_long"},
		{"conflict", service.ConflictError("email_exists"), http.StatusConflict, "email_exists"},
		{"google account", service.ConflictError("google_account"), http.StatusBadRequest, "google_account"},
		{"not found", service.NotFoundError("user_not_found"), http.StatusNotFound, "user_not_found"},
		{"bad credential", service.InvalidCredentialError("invalid_password"), http.StatusUnauthorized, "invalid_password"},
		{"delivery", service.DeliveryError(assert.AnError), http.StatusBadGateway, "delivery_failed"},
		{"store", service.StoreError(assert.AnError), http.StatusServiceUnavailable, "store_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewUserHandler(&stubIdentity{err: tc.err}, zap.NewNop())
			rec := call(t, h.RequestOTP, http.MethodPost, "/user/request-otp", `{"email":"a@x.io"}`, nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"`+tc.reason+`"`)
		})
	}
}

func TestUnknownErrorIs500(t *testing.T) {
	h := NewUserHandler(&stubIdentity{err: assert.AnError}, zap.NewNop())
	rec := call(t, h.Register, http.MethodPost, "/user/register", `{}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestLoginPassesBothCredentials(t *testing.T) {
	stub := &stubIdentity{}
	h := NewUserHandler(stub, zap.NewNop())
	rec := call(t, h.Login, http.MethodPost, "/user/login", `{"email":"a@x.io","otp":"123456"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123456", stub.gotLogin.OTP)
	assert.Contains(t, rec.Body.String(), `"token":"tok"`)
}

func TestLoginBadOTPIs401(t *testing.T) {
	h := NewUserHandler(&stubIdentity{err: service.InvalidCredentialError("invalid_otp")}, zap.NewNop())
	rec := call(t, h.Login, http.MethodPost, "/user/login", `{"email":"a@x.io","otp":"000000"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyOTP(t *testing.T) {
	h := NewUserHandler(&stubIdentity{}, zap.NewNop())
	rec := call(t, h.VerifyOTP, http.MethodPost, "/user/verify-otp", `{"mobile":"+15550001111","otp":"123456"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"identifier":"+15550001111"`)

	h = NewUserHandler(&stubIdentity{err: service.InvalidCredentialError("invalid_otp")}, zap.NewNop())
	rec = call(t, h.VerifyOTP, http.MethodPost, "/user/verify-otp", `{"email":"a@x.io","otp":"1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"invalid_otp"`)

	h = NewUserHandler(&stubIdentity{err: service.InvalidCredentialError("otp_attempts_exceeded")}, zap.NewNop())
	rec = call(t, h.VerifyOTP, http.MethodPost, "/user/verify-otp", `{"email":"a@x.io","otp":"1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"otp_attempts_exceeded"`)
	assert.Contains(t, rec.Body.String(), "request a new one")
}

func TestUpdateRejectsImmutableAndUnknownFields(t *testing.T) {
	h := NewUserHandler(&stubIdentity{}, zap.NewNop())

	rec := call(t, h.Update, http.MethodPut, "/user/update", `{"name":"B","email":"b@x.io"}`, owner())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "immutable_field")

	rec = call(t, h.Update, http.MethodPut, "/user/update", `{"nickname":"B"}`, owner())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_field")

	rec = call(t, h.Update, http.MethodPut, "/user/update", `not json`, owner())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateUsesTokenSubject(t *testing.T) {
	stub := &stubIdentity{user: &model.User{ID: "u1", Name: "B"}}
	h := NewUserHandler(stub, zap.NewNop())
	rec := call(t, h.Update, http.MethodPut, "/user/update", `{"name":"B","date_of_birth":"1990-04-01"}`, owner())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", stub.gotTarget)
	assert.Equal(t, "u1", stub.gotActor.UserID)
	require.NotNil(t, stub.gotPatch.BirthDate)
	assert.Equal(t, "1990-04-01", stub.gotPatch.BirthDate.String())
}

func TestDeleteAndProfileNeedClaims(t *testing.T) {
	h := NewUserHandler(&stubIdentity{}, zap.NewNop())
	rec := call(t, h.Delete, http.MethodDelete, "/user/delete", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, h.Delete, http.MethodDelete, "/user/delete", "", owner())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProfileFresh(t *testing.T) {
	stub := &stubIdentity{user: &model.User{ID: "u1", Name: "Ann", PasswordHash: "secret-hash"}}
	h := NewUserHandler(stub, zap.NewNop())

	rec := call(t, h.Profile, http.MethodGet, "/user/profile", "", owner())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"a@x.io"`)

	rec = call(t, h.Profile, http.MethodGet, "/user/profile?fresh=true", "", owner())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Ann"`)
	assert.NotContains(t, rec.Body.String(), "secret-hash")
}
