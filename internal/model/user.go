package model

import "time"

// AuthProvider tags how a user record authenticates.
type AuthProvider string

const (
	// ProviderLocal marks accounts created through password registration.
	ProviderLocal AuthProvider = "local"
	// ProviderGoogle marks accounts bound to a Google subject id.
	ProviderGoogle AuthProvider = "google"
)

// Valid reports whether p is one of the known provider tags.
func (p AuthProvider) Valid() bool {
	return p == ProviderLocal || p == ProviderGoogle
}

// Federated reports whether p delegates authentication to an external provider.
func (p AuthProvider) Federated() bool {
	return p == ProviderGoogle
}

// User represents a row in the `users` table. Optional columns are
// pointers so that NULL survives a round trip through the store.
//
// Fields:
//
//	ID           – UUID primary key.
//	Name         – display name.
//	Email        – unique email; nil only while a record is being assembled.
//	Mobile       – unique mobile number; nil for federated-first accounts.
//	PasswordHash – bcrypt hash, or "" for accounts without a password.
//	Provider     – local | google.
//	ProviderID   – federated subject id (google `sub`), nil for local accounts.
//	AvatarURL    – profile picture URI.
//	Profile      – post-registration attributes.
type User struct {
	ID           string
	Name         string
	Email        *string
	Mobile       *string
	PasswordHash string
	Provider     AuthProvider
	ProviderID   *string
	AvatarURL    *string
	Profile      Profile
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile holds the optional attributes users fill in after registration.
type Profile struct {
	Gender     *string `json:"gender,omitempty"`
	BirthDate  *Date   `json:"date_of_birth,omitempty"`
	Education  *string `json:"education,omitempty"`
	Occupation *string `json:"occupation,omitempty"`
	Address    *string `json:"address,omitempty"`
	TaxID      *string `json:"tax_id,omitempty"`
}

// HasPassword reports whether the record can take part in password
// comparison. Federated-only accounts carry the empty-string sentinel.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// EmailValue returns the email or "" when unset.
func (u *User) EmailValue() string { return deref(u.Email) }

// MobileValue returns the mobile number or "" when unset.
func (u *User) MobileValue() string { return deref(u.Mobile) }

// Summary returns the public projection of the record. The password
// hash is never part of it.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.EmailValue(),
		Mobile: u.MobileValue(),
	}
}

// View returns the full public projection used by profile endpoints.
func (u *User) View() UserView {
	return UserView{
		UserSummary: u.Summary(),
		Provider:    u.Provider,
		AvatarURL:   deref(u.AvatarURL),
		Profile:     u.Profile,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// UserSummary is returned on registration and login.
type UserSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Mobile string `json:"mobile"`
}

// UserView is the record shape exposed by profile and update endpoints.
type UserView struct {
	UserSummary
	Provider  AuthProvider `json:"auth_provider"`
	AvatarURL string       `json:"avatar,omitempty"`
	Profile
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
