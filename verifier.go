package memberid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	claimGivenName         = "given_name"
	claimPreferredUsername = "preferred_username"
	claimGroups            = "groups"
)

// KeySetFetcher fetches a remote key set.
type KeySetFetcher interface {
	Fetch(ctx context.Context, url string) (KeySet, error)
}

// Verifier validates upstream RS256 identity tokens against a remote key set.
type Verifier struct {
	jwksURL   string
	audience  string
	clockSkew time.Duration
	keys      KeySetFetcher
	now       func() time.Time
}

// NewVerifier builds a verifier from cfg. keys may be nil, in which case a
// KeySetClient configured from cfg is used.
func NewVerifier(cfg Config, keys KeySetFetcher) (*Verifier, error) {
	cfg.normalize()
	if err := cfg.validateUpstream(); err != nil {
		return nil, err
	}
	if keys == nil {
		keys = NewKeySetClient(
			WithFetchTimeout(cfg.FetchTimeout),
			WithCoalescing(cfg.CoalesceFetches),
		)
	}
	return &Verifier{
		jwksURL:   cfg.JWKSURL,
		audience:  cfg.Audience,
		clockSkew: cfg.ClockSkew,
		keys:      keys,
		now:       time.Now,
	}, nil
}

// Verify validates token against the configured audience.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	return v.VerifyAudience(ctx, token, v.audience)
}

// VerifyAudience validates token and requires its audience to contain audience.
// Each step is a hard gate and nothing is retried.
func (v *Verifier) VerifyAudience(ctx context.Context, token, audience string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(ErrCodeHeader, errors.New("token is empty"))
	}

	kid, err := keyIDOf(token)
	if err != nil {
		return nil, err
	}

	set, err := v.keys.Fetch(ctx, v.jwksURL)
	if err != nil {
		return nil, err
	}
	entry, err := set.Lookup(kid)
	if err != nil {
		return nil, err
	}
	pub, err := entry.RSAPublicKey()
	if err != nil {
		return nil, err
	}

	if _, err := jws.Verify([]byte(token), jws.WithKey(jwa.RS256, pub)); err != nil {
		return nil, newError(ErrCodeBadSignature, err)
	}

	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, err)
	}

	validateOpts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAcceptableSkew(v.clockSkew),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAudience(audience),
	}
	if err := jwt.Validate(parsed, validateOpts...); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired()):
			return nil, newError(ErrCodeExpired, err)
		case errors.Is(err, jwt.ErrInvalidAudience()):
			return nil, newError(ErrCodeAudienceMismatch, err)
		default:
			return nil, newError(ErrCodeInvalidToken, err)
		}
	}

	return extractClaims(parsed)
}

// keyIDOf reads the kid from the token's protected header.
func keyIDOf(token string) (string, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return "", newError(ErrCodeHeader, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return "", newErrorf(ErrCodeHeader, "expected one signature, got %d", len(sigs))
	}
	kid := sigs[0].ProtectedHeaders().KeyID()
	if kid == "" {
		return "", newError(ErrCodeHeader, errors.New("kid missing"))
	}
	return kid, nil
}

func extractClaims(token jwt.Token) (*Claims, error) {
	claims := &Claims{
		Subject:   token.Subject(),
		ExpiresAt: token.Expiration(),
		IssuedAt:  token.IssuedAt(),
	}
	if aud := token.Audience(); len(aud) > 0 {
		claims.Audience = append([]string(nil), aud...)
	}
	if claims.Subject == "" {
		return nil, newError(ErrCodeInvalidClaims, errors.New("sub missing"))
	}

	var err error
	if claims.GivenName, err = stringClaim(token, claimGivenName); err != nil {
		return nil, err
	}
	if claims.PreferredUsername, err = stringClaim(token, claimPreferredUsername); err != nil {
		return nil, err
	}

	raw, ok := token.Get(claimGroups)
	if !ok {
		return nil, newErrorf(ErrCodeInvalidClaims, "%s missing", claimGroups)
	}
	groups, ok := normalizeGroups(raw)
	if !ok {
		return nil, newErrorf(ErrCodeInvalidClaims, "%s is not a string list", claimGroups)
	}
	claims.Groups = groups
	return claims, nil
}

func stringClaim(token jwt.Token, name string) (string, error) {
	v, ok := token.Get(name)
	if !ok {
		return "", newErrorf(ErrCodeInvalidClaims, "%s missing", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", newError(ErrCodeInvalidClaims, fmt.Errorf("%s is %T, want string", name, v))
	}
	return s, nil
}

func normalizeGroups(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return append([]string{}, v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
