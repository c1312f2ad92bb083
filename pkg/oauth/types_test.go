package oauth

import (
	"testing"
	"time"
)

func TestToken_IsExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		token   Token
		expired bool
	}{
		{
			name:    "no expiry never expires",
			token:   Token{AccessToken: "at"},
			expired: false,
		},
		{
			name:    "future expiry",
			token:   Token{AccessToken: "at", ExpiresAt: now.Add(time.Hour)},
			expired: false,
		},
		{
			name:    "past expiry",
			token:   Token{AccessToken: "at", ExpiresAt: now.Add(-time.Hour)},
			expired: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.IsExpired(now); got != tt.expired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestToken_SetExpiresAtFromExpiresIn(t *testing.T) {
	now := time.Now()

	token := Token{AccessToken: "at", ExpiresIn: 3600}
	token.SetExpiresAtFromExpiresIn(now)

	want := now.Add(time.Hour)
	if !token.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", token.ExpiresAt, want)
	}

	// An already-set ExpiresAt is not overwritten
	fixed := now.Add(2 * time.Hour)
	token2 := Token{AccessToken: "at", ExpiresIn: 60, ExpiresAt: fixed}
	token2.SetExpiresAtFromExpiresIn(now)
	if !token2.ExpiresAt.Equal(fixed) {
		t.Error("SetExpiresAtFromExpiresIn overwrote an explicit ExpiresAt")
	}
}

func TestToken_Scopes(t *testing.T) {
	token := Token{Scope: "openid profile email"}
	scopes := token.Scopes()
	if len(scopes) != 3 || scopes[0] != "openid" || scopes[2] != "email" {
		t.Errorf("Scopes() = %v", scopes)
	}

	empty := Token{}
	if empty.Scopes() != nil {
		t.Error("Scopes() on empty scope should be nil")
	}
}

func TestToken_ToOAuth2Token(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	token := Token{
		AccessToken:  "at",
		TokenType:    "Bearer",
		RefreshToken: "rt",
		ExpiresAt:    exp,
	}

	o2 := token.ToOAuth2Token()
	if o2.AccessToken != "at" || o2.TokenType != "Bearer" || o2.RefreshToken != "rt" {
		t.Error("ToOAuth2Token() field mismatch")
	}
	if !o2.Expiry.Equal(exp) {
		t.Errorf("Expiry = %v, want %v", o2.Expiry, exp)
	}
}

func TestMetadata_SupportsPKCE(t *testing.T) {
	tests := []struct {
		name    string
		methods []string
		want    bool
	}{
		{"explicit S256", []string{"S256"}, true},
		{"plain only", []string{"plain"}, false},
		{"unspecified assumes S256", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Metadata{CodeChallengeMethodsSupported: tt.methods}
			if got := m.SupportsPKCE(); got != tt.want {
				t.Errorf("SupportsPKCE() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrigin(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://mcp.example.com/mcp", "https://mcp.example.com", false},
		{"http://localhost:8080/sse?x=1", "http://localhost:8080", false},
		{"not a url at all", "", true},
		{"/relative/path", "", true},
	}

	for _, tt := range tests {
		got, err := Origin(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Origin(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Origin(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Origin(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
