package memberid

import (
	"errors"
	"math/bits"
	"time"
	"unicode/utf8"
)

// TypeTag discriminates where a credential is used.
type TypeTag string

const (
	TypeApp           TypeTag = "a"
	TypeAppleWallet   TypeTag = "wi"
	TypeAndroidWallet TypeTag = "wa"
)

// Valid reports whether t is a known credential type.
func (t TypeTag) Valid() bool {
	switch t {
	case TypeApp, TypeAppleWallet, TypeAndroidWallet:
		return true
	}
	return false
}

// Wallet reports whether t is embedded in a wallet pass.
func (t TypeTag) Wallet() bool {
	return t == TypeAppleWallet || t == TypeAndroidWallet
}

// String returns the human readable credential type.
func (t TypeTag) String() string {
	switch t {
	case TypeApp:
		return "app"
	case TypeAppleWallet:
		return "apple_wallet"
	case TypeAndroidWallet:
		return "android_wallet"
	}
	return string(t)
}

// Payload is the claim record embedded in a credential. Field order is the wire
// order.
type Payload struct {
	Subject   string  `cbor:"sub"`
	Name      string  `cbor:"name"`
	Type      TypeTag `cbor:"t"`
	IssuedAt  uint64  `cbor:"iat"`
	ExpiresAt uint64  `cbor:"exp"`
}

// Builder turns verified claims into credential payloads.
type Builder struct {
	membershipGroup string
	maxFieldLength  int
	now             func() time.Time
}

// NewBuilder returns a Builder requiring membershipGroup and capping embedded
// claim values at maxFieldLength bytes.
func NewBuilder(membershipGroup string, maxFieldLength int) *Builder {
	if membershipGroup == "" {
		membershipGroup = defaultMembershipGroup
	}
	if maxFieldLength <= 0 {
		maxFieldLength = defaultMaxFieldLength
	}
	return &Builder{
		membershipGroup: membershipGroup,
		maxFieldLength:  maxFieldLength,
		now:             time.Now,
	}
}

// Build assembles a payload issued now and valid for validitySeconds.
func (b *Builder) Build(claims *Claims, tag TypeTag, validitySeconds uint64) (Payload, error) {
	return b.BuildAt(claims, tag, uint64(b.now().Unix()), validitySeconds)
}

// BuildAt assembles a payload with an explicit issue time.
func (b *Builder) BuildAt(claims *Claims, tag TypeTag, issuedAt, validitySeconds uint64) (Payload, error) {
	if !claims.HasGroup(b.membershipGroup) {
		return Payload{}, newErrorf(ErrCodeAuthorization, "token missing required %q group", b.membershipGroup)
	}
	if !tag.Valid() {
		return Payload{}, newErrorf(ErrCodeUnknownType, "type %q", string(tag))
	}
	if err := b.checkField("sub", claims.Subject); err != nil {
		return Payload{}, err
	}
	if err := b.checkField("name", claims.GivenName); err != nil {
		return Payload{}, err
	}
	if validitySeconds == 0 {
		return Payload{}, newError(ErrCodeRange, errors.New("validity must be positive"))
	}
	expiresAt, carry := bits.Add64(issuedAt, validitySeconds, 0)
	if carry != 0 {
		return Payload{}, newErrorf(ErrCodeRange, "issued_at %d + validity %d overflows", issuedAt, validitySeconds)
	}
	return Payload{
		Subject:   claims.Subject,
		Name:      claims.GivenName,
		Type:      tag,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (b *Builder) checkField(name, value string) error {
	if len(value) > b.maxFieldLength {
		return newErrorf(ErrCodeFieldTooLong, "%s is %d bytes, max %d", name, len(value), b.maxFieldLength)
	}
	if !utf8.ValidString(value) {
		return newErrorf(ErrCodeInvalidClaims, "%s is not valid UTF-8", name)
	}
	return nil
}
