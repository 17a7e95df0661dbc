package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/middleware"
	"github.com/iliyamo/crowdfund-auth/internal/model"
	"github.com/iliyamo/crowdfund-auth/internal/service"
	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

// Identity is the part of service.IdentityService the /user routes use.
type Identity interface {
	Register(ctx context.Context, in service.RegisterInput) (model.UserSummary, error)
	Login(ctx context.Context, in service.LoginInput) (service.Session, error)
	RequestOneTimeCode(ctx context.Context, id string) error
	RequestRegistrationCode(ctx context.Context, id string) error
	VerifyOneTimeCode(ctx context.Context, id, code string) (string, error)
	Profile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, actor utils.SessionClaims, userID string, patch model.ProfilePatch) (*model.User, error)
	DeleteSelf(ctx context.Context, actor utils.SessionClaims, userID string) error
	ChangePassword(ctx context.Context, actor utils.SessionClaims, current, next string) error
}

// UserHandler bundles dependencies for /user endpoints.
type UserHandler struct {
	svc Identity
	log *zap.Logger
}

func NewUserHandler(svc Identity, log *zap.Logger) *UserHandler {
	return &UserHandler{svc: svc, log: log}
}

// ----- DTOs -----

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Mobile   string `json:"mobile"`
}

type loginReq struct {
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
	OTP      string `json:"otp"`
}

// otpReq accepts either key; email wins when both are sent.
type otpReq struct {
	Email  string `json:"email"`
	Mobile string `json:"mobile"`
	OTP    string `json:"otp"`
}

func (r otpReq) identifier() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Mobile
}

type passwordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type claimsResp struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile,omitempty"`
	IssuedAt int64  `json:"iat,omitempty"`
	Expires  int64  `json:"exp,omitempty"`
}

// Register: POST /user/register
func (h *UserHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}
	u, err := h.svc.Register(c.Request().Context(), service.RegisterInput(req))
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "user registered", "user": u})
}

// Login: POST /user/login. Uses the otp when present, otherwise the password.
func (h *UserHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}
	sess, err := h.svc.Login(c.Request().Context(), service.LoginInput(req))
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Logout: POST /user/logout. Tokens are stateless, so this only confirms the
// bearer token was valid; the client discards it.
func (h *UserHandler) Logout(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// RequestOTP: POST /user/request-otp
func (h *UserHandler) RequestOTP(c echo.Context) error {
	var req otpReq
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}
	if err := h.svc.RequestOneTimeCode(c.Request().Context(), req.identifier()); err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "otp sent"})
}

// RegisterRequestOTP: POST /user/register-request-otp
func (h *UserHandler) RegisterRequestOTP(c echo.Context) error {
	var req otpReq
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}
	if err := h.svc.RequestRegistrationCode(c.Request().Context(), req.identifier()); err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "otp sent"})
}

// VerifyOTP: POST /user/verify-otp. A wrong code is a 400 here, unlike login.
func (h *UserHandler) VerifyOTP(c echo.Context) error {
	var req otpReq
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}
	id, err := h.svc.VerifyOneTimeCode(c.Request().Context(), req.identifier(), req.OTP)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			return failWith(c, http.StatusBadRequest, service.ReasonOf(err))
		}
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "otp verified", "identifier": id})
}

// Profile: GET /user/profile and /user/me. Returns the token claims, or the
// stored record with ?fresh=true.
func (h *UserHandler) Profile(c echo.Context) error {
	claims, ok := middleware.Claims(c)
	if !ok {
		return failWith(c, http.StatusUnauthorized, "token_missing")
	}
	if c.QueryParam("fresh") != "true" {
		resp := claimsResp{ID: claims.UserID, Email: claims.Email, Mobile: claims.Mobile}
		if claims.IssuedAt != nil {
			resp.IssuedAt = claims.IssuedAt.Unix()
		}
		if claims.ExpiresAt != nil {
			resp.Expires = claims.ExpiresAt.Unix()
		}
		return c.JSON(http.StatusOK, echo.Map{"user": resp})
	}
	u, err := h.svc.Profile(c.Request().Context(), claims.UserID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": u.View()})
}

// immutableFields may not appear in a profile update body.
var immutableFields = []string{"id", "email", "mobile", "password", "password_hash", "auth_provider", "provider_id"}

// Update: PUT /user/update
func (h *UserHandler) Update(c echo.Context) error {
	claims, ok := middleware.Claims(c)
	if !ok {
		return failWith(c, http.StatusUnauthorized, "token_missing")
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 64<<10))
	if err != nil {
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}
	for _, k := range immutableFields {
		if _, found := keys[k]; found {
			return failWith(c, http.StatusBadRequest, "immutable_field")
		}
	}
	var patch model.ProfilePatch
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return failWith(c, http.StatusBadRequest, "unknown_field")
		}
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}

	u, err := h.svc.UpdateProfile(c.Request().Context(), claims.Session(), claims.UserID, patch)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "profile updated", "user": u.View()})
}

// Delete: DELETE /user/delete
func (h *UserHandler) Delete(c echo.Context) error {
	claims, ok := middleware.Claims(c)
	if !ok {
		return failWith(c, http.StatusUnauthorized, "token_missing")
	}
	if err := h.svc.DeleteSelf(c.Request().Context(), claims.Session(), claims.UserID); err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "account deleted"})
}

// ChangePassword: PUT /user/password
func (h *UserHandler) ChangePassword(c echo.Context) error {
	claims, ok := middleware.Claims(c)
	if !ok {
		return failWith(c, http.StatusUnauthorized, "token_missing")
	}
	var req passwordReq
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "invalid_body")
	}
	if err := h.svc.ChangePassword(c.Request().Context(), claims.Session(), req.CurrentPassword, req.NewPassword); err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed"})
}
