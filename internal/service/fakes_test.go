package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/crowdfund-auth/internal/model"
	"github.com/iliyamo/crowdfund-auth/internal/notify"
	"github.com/iliyamo/crowdfund-auth/internal/otp"
	"github.com/iliyamo/crowdfund-auth/internal/repository"
	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

// memStore mimics the unique indexes of the users table.
type memStore struct {
	mu   sync.Mutex
	rows map[string]model.User
	err  error
}

func newMemStore() *memStore { return &memStore{rows: map[string]model.User{}} }

func eq(a, b *string) bool { return a != nil && b != nil && *a == *b }

func (m *memStore) conflict(u model.User) error {
	for id, r := range m.rows {
		if id == u.ID {
			continue
		}
		switch {
		case eq(r.Email, u.Email):
			return repository.ErrEmailExists
		case eq(r.Mobile, u.Mobile):
			return repository.ErrMobileExists
		case r.Provider == u.Provider && eq(r.ProviderID, u.ProviderID):
			return repository.ErrDuplicate
		}
	}
	return nil
}

func (m *memStore) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := m.conflict(*u); err != nil {
		return err
	}
	u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
	m.rows[u.ID] = *u
	return nil
}

func (m *memStore) find(match func(model.User) bool) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.rows {
		if match(r) {
			c := r
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u model.User) bool { return u.ID == id })
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u model.User) bool { return u.EmailValue() == email })
}

func (m *memStore) FindByEmailOrMobile(_ context.Context, email, mobile string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if email != "" {
		if u, err := m.find(func(u model.User) bool { return u.EmailValue() == email }); err == nil || mobile == "" {
			return u, err
		}
	}
	if mobile == "" {
		return nil, repository.ErrNotFound
	}
	return m.find(func(u model.User) bool { return u.MobileValue() == mobile })
}

func (m *memStore) UpdateProfile(_ context.Context, id string, patch model.ProfilePatch) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.find(func(u model.User) bool { return u.ID == id })
	if err != nil {
		return nil, err
	}
	patch.Apply(u)
	m.rows[id] = *u
	return u, nil
}

func (m *memStore) LinkFederated(_ context.Context, email string, p model.AuthProvider, subject string, avatar *string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.find(func(u model.User) bool { return u.EmailValue() == email })
	if err != nil {
		return nil, err
	}
	u.Provider, u.ProviderID, u.PasswordHash = p, &subject, ""
	if avatar != nil && *avatar != "" {
		u.AvatarURL = avatar
	}
	if err := m.conflict(*u); err != nil {
		return nil, err
	}
	m.rows[u.ID] = *u
	return u, nil
}

func (m *memStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.PasswordHash = hash
	m.rows[id] = r
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// outbox records dispatched codes and can be told to fail.
type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
	fail error
}

func (o *outbox) Dispatch(_ context.Context, m notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, m)
	return nil
}

func (o *outbox) last(t *testing.T) notify.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no code dispatched")
	return o.sent[len(o.sent)-1]
}

type eventLog struct {
	mu   sync.Mutex
	keys []string
}

func (e *eventLog) Publish(_ context.Context, _, key string, _ any, _ string) error {
	e.mu.Lock()
	e.keys = append(e.keys, key)
	e.mu.Unlock()
	return nil
}
func (e *eventLog) Close() error { return nil }

type fixture struct {
	svc    *IdentityService
	store  *memStore
	codes  otp.Cache
	out    *outbox
	events *eventLog
	tokens *utils.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := utils.NewTokenIssuer("test-secret-test-secret-test-secret", time.Hour, "crowdfund-auth")
	require.NoError(t, err)
	codes, err := otp.NewMemoryCache(1000)
	require.NoError(t, err)
	t.Cleanup(codes.Close)

	f := &fixture{
		store:  newMemStore(),
		codes:  codes,
		out:    &outbox{},
		events: &eventLog{},
		tokens: tokens,
	}
	f.svc = NewIdentityService(Deps{
		Store:    f.store,
		Hasher:   utils.BcryptHasher{Cost: bcrypt.MinCost},
		Tokens:   tokens,
		Codes:    codes,
		Notifier: f.out,
		Events:   f.events,
		OTPTTL:   time.Minute,
	})
	return f
}

func (f *fixture) register(t *testing.T, name, email, password, mobile string) model.UserSummary {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Name: name, Email: email, Password: password, Mobile: mobile})
	require.NoError(t, err)
	return u
}

var errBoom = errors.New("boom")

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}
