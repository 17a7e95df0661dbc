package model

import "unicode/utf8"

// Column widths of the users table, counted in characters as MySQL counts
// VARCHAR under utf8mb4. avatar_url is TEXT; MaxAvatarLen caps it lower.
const (
	MaxEmailLen      = 320
	MaxNameLen       = 255
	MaxAvatarLen     = 2048
	MaxGenderLen     = 32
	MaxEducationLen  = 64
	MaxOccupationLen = 64
	MaxAddressLen    = 255
	MaxTaxIDLen      = 32
)

// TooLong returns the JSON name and width of the first field that exceeds
// its column, or "" when every set field fits.
func (p ProfilePatch) TooLong() (string, int) {
	fields := []struct {
		name string
		v    *string
		max  int
	}{
		{"name", p.Name, MaxNameLen},
		{"avatar", p.AvatarURL, MaxAvatarLen},
		{"gender", p.Gender, MaxGenderLen},
		{"education", p.Education, MaxEducationLen},
		{"occupation", p.Occupation, MaxOccupationLen},
		{"address", p.Address, MaxAddressLen},
		{"tax_id", p.TaxID, MaxTaxIDLen},
	}
	for _, f := range fields {
		if f.v != nil && utf8.RuneCountInString(*f.v) > f.max {
			return f.name, f.max
		}
	}
	return "", 0
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
