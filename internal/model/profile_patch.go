package model

import "strings"

// ProfilePatch is the allow-listed set of fields a user may change through
// the profile update endpoint. Nil fields are left untouched. Email,
// mobile, password and provider change only through their own flows.
type ProfilePatch struct {
	Name       *string `json:"name,omitempty"`
	AvatarURL  *string `json:"avatar,omitempty"`
	Gender     *string `json:"gender,omitempty"`
	BirthDate  *Date   `json:"date_of_birth,omitempty"`
	Education  *string `json:"education,omitempty"`
	Occupation *string `json:"occupation,omitempty"`
	Address    *string `json:"address,omitempty"`
	TaxID      *string `json:"tax_id,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.AvatarURL == nil && p.Gender == nil &&
		p.BirthDate == nil && p.Education == nil && p.Occupation == nil &&
		p.Address == nil && p.TaxID == nil
}

// Normalize trims surrounding whitespace from every string field.
func (p *ProfilePatch) Normalize() {
	for _, f := range []*string{p.Name, p.AvatarURL, p.Gender, p.Education, p.Occupation, p.Address, p.TaxID} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

// Apply copies the non-nil fields of p onto u.
func (p ProfilePatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.AvatarURL != nil {
		u.AvatarURL = StrPtr(*p.AvatarURL)
	}
	if p.Gender != nil {
		u.Profile.Gender = StrPtr(*p.Gender)
	}
	if p.BirthDate != nil {
		d := NewDate(p.BirthDate.Time)
		u.Profile.BirthDate = &d
	}
	if p.Education != nil {
		u.Profile.Education = StrPtr(*p.Education)
	}
	if p.Occupation != nil {
		u.Profile.Occupation = StrPtr(*p.Occupation)
	}
	if p.Address != nil {
		u.Profile.Address = StrPtr(*p.Address)
	}
	if p.TaxID != nil {
		u.Profile.TaxID = StrPtr(*p.TaxID)
	}
}
