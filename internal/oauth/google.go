// Package oauth implements the Google sign-in redirect flow.
package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	ggoogle "golang.org/x/oauth2/google"
)

const (
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultStateTTL    = 10 * time.Minute
)

var (
	ErrBadState         = errors.New("oauth: state signature mismatch")
	ErrStateExpired     = errors.New("oauth: state expired")
	ErrEmailUnverified  = errors.New("oauth: provider email not verified")
	ErrMissingSubject   = errors.New("oauth: provider returned no subject")
	ErrUserInfoResponse = errors.New("oauth: userinfo request failed")
)

// GoogleUser is the subset of the userinfo document the service relies on.
type GoogleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type GoogleOAuth struct {
	cfg         *oauth2.Config
	stateKey    []byte
	stateTTL    time.Duration
	userInfoURL string
	now         func() time.Time
}

func NewGoogle(clientID, clientSecret, redirectURI, stateSecret string) *GoogleOAuth {
	return &GoogleOAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     ggoogle.Endpoint,
		},
		stateKey:    []byte(stateSecret),
		stateTTL:    defaultStateTTL,
		userInfoURL: defaultUserInfoURL,
		now:         time.Now,
	}
}

// WithEndpoints points the flow at other token and userinfo URLs.
func (g *GoogleOAuth) WithEndpoints(ep oauth2.Endpoint, userInfoURL string) *GoogleOAuth {
	g.cfg.Endpoint = ep
	g.userInfoURL = userInfoURL
	return g
}

// NewState returns "<unix>:<nonce>.<hmac>" so the callback can check both
// origin and age without server-side storage.
func (g *GoogleOAuth) NewState() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	raw := strconv.FormatInt(g.now().Unix(), 10) + ":" + base64.RawURLEncoding.EncodeToString(nonce)
	return raw + "." + g.sign(raw), nil
}

func (g *GoogleOAuth) sign(raw string) string {
	mac := hmac.New(sha256.New, g.stateKey)
	mac.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyState checks the signature and that the state is younger than the
// state window.
func (g *GoogleOAuth) VerifyState(got string) error {
	i := strings.LastIndexByte(got, '.')
	if i < 0 {
		return ErrBadState
	}
	raw := got[:i]
	sig, err := base64.RawURLEncoding.DecodeString(got[i+1:])
	if err != nil {
		return ErrBadState
	}
	want, _ := base64.RawURLEncoding.DecodeString(g.sign(raw))
	if !hmac.Equal(want, sig) {
		return ErrBadState
	}
	ts, _, ok := strings.Cut(raw, ":")
	if !ok {
		return ErrBadState
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadState
	}
	if g.now().Sub(time.Unix(issued, 0)) > g.stateTTL {
		return ErrStateExpired
	}
	return nil
}

func (g *GoogleOAuth) AuthURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades the authorization code for a token and reads the
// userinfo document. An email that Google has not verified is rejected;
// an absent email is returned as-is for the caller to refuse.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*GoogleUser, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: exchange: %w", err)
	}

	client := g.cfg.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoResponse, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUserInfoResponse, resp.StatusCode)
	}

	var u GoogleUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUserInfoResponse, err)
	}
	if u.Sub == "" {
		return nil, ErrMissingSubject
	}
	if u.Email != "" && !u.EmailVerified {
		return nil, ErrEmailUnverified
	}
	return &u, nil
}
