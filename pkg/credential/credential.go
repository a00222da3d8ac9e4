// ABOUTME: Tagged credential variants (OAuth, OrgJWT, Guest) and expiry inspection.
// ABOUTME: Immutable snapshots resolved once per connection attempt.

package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrNoExpiry     = errors.New("credential carries no expiry")
)

// Kind discriminates the credential variant.
type Kind string

const (
	KindOAuth  Kind = "oauth"
	KindOrgJWT Kind = "org_jwt"
	KindGuest  Kind = "guest"
)

// Credential is an immutable authentication snapshot. Exactly the fields
// relevant to Kind are populated.
type Credential struct {
	Kind Kind

	// Token-bearing variants.
	Token  string
	OrgID  string
	UserID string

	// Guest variant.
	GuestURL string
}

// OAuth builds a user-scoped token credential.
func OAuth(token, orgID, userID string) Credential {
	return Credential{Kind: KindOAuth, Token: token, OrgID: orgID, UserID: userID}
}

// OrgJWT builds an org-scoped JWT credential.
func OrgJWT(token string) Credential {
	return Credential{Kind: KindOrgJWT, Token: token}
}

// Guest builds an unauthenticated credential for the given guest endpoint.
func Guest(url string) Credential {
	return Credential{Kind: KindGuest, GuestURL: url}
}

// Authenticated reports whether the credential carries a bearer token.
func (c Credential) Authenticated() bool {
	return c.Kind == KindOAuth || c.Kind == KindOrgJWT
}

// ExpiresAt extracts the exp claim from a token-bearing credential. The token
// is parsed without signature verification; only the claim is read. Guest
// credentials and tokens without an exp claim return ErrNoExpiry.
func (c Credential) ExpiresAt() (time.Time, error) {
	if !c.Authenticated() {
		return time.Time{}, ErrNoExpiry
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.Token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}

// Expired reports whether a token-bearing credential's exp claim has passed.
// Credentials without a readable expiry are never considered expired locally.
func (c Credential) Expired(now time.Time) bool {
	exp, err := c.ExpiresAt()
	if err != nil {
		return false
	}
	return now.After(exp)
}
