package email

import "testing"

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"simple", "user@example.com", "example.com"},
		{"with name", "User Name <user@example.com>", "example.com"},
		{"uppercase", "user@EXAMPLE.COM", "example.com"},
		{"mixed case", "user@Sub.Example.Com", "sub.example.com"},
		{"invalid no at", "invalid", ""},
		{"invalid empty before at", "@example.com", ""},
		{"invalid empty after at", "user@", ""},
		{"empty", "", ""},
		{"single char domain", "user@a", "a"},
		{"subdomain", "user@mail.example.com", "mail.example.com"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ExtractDomain(tc.email)
			if result != tc.expected {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tc.email, result, tc.expected)
			}
		})
	}
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"user@example.com", true},
		{"first.last+tag@sub.example.org", true},
		{"  user@example.com  ", true},
		{"user@example", false},
		{"user@@example.com", false},
		{"User <user@example.com>", false},
		{"user@example.c", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.email, func(t *testing.T) {
			if got := IsValidAddress(tc.email); got != tc.valid {
				t.Errorf("IsValidAddress(%q) = %v, want %v", tc.email, got, tc.valid)
			}
		})
	}
}

func TestFormatAddress(t *testing.T) {
	if got := FormatAddress("", "a@example.com"); got != "a@example.com" {
		t.Errorf("FormatAddress without name = %q", got)
	}
	want := `"USN Competitions" <noreply@example.com>`
	if got := FormatAddress("USN Competitions", "noreply@example.com"); got != want {
		t.Errorf("FormatAddress = %q, want %q", got, want)
	}
}
