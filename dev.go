package memberid

import (
	"context"
	"errors"
)

// DevVerifier accepts any non-empty token and returns fixed claims. It lets the
// issuing pipeline run locally without an identity provider and must never be
// wired into a deployed issuer.
type DevVerifier struct {
	claims Claims
}

// NewDevVerifier returns a DevVerifier answering with claims. Subject and the
// membership group default so the result passes authorization.
func NewDevVerifier(claims Claims, membershipGroup string) *DevVerifier {
	if claims.Subject == "" {
		claims.Subject = "dev-bypass"
	}
	if claims.GivenName == "" {
		claims.GivenName = "Dev"
	}
	if claims.PreferredUsername == "" {
		claims.PreferredUsername = claims.Subject
	}
	if membershipGroup == "" {
		membershipGroup = defaultMembershipGroup
	}
	if !claims.HasGroup(membershipGroup) {
		claims.Groups = append(append([]string(nil), claims.Groups...), membershipGroup)
	}
	return &DevVerifier{claims: claims}
}

// Verify implements TokenVerifier.
func (d *DevVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, newError(ErrCodeHeader, errors.New("empty token"))
	}
	out := d.claims
	out.Groups = append([]string(nil), d.claims.Groups...)
	return &out, nil
}
