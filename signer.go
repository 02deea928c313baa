package memberid

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const (
	// SigningKeySize is the length of the raw P-256 scalar.
	SigningKeySize = 32
	// SignatureSize is the length of a raw r||s signature.
	SignatureSize = 64
	// PublicKeySize is the length of an uncompressed P-256 point.
	PublicKeySize = 65
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// SortNone keeps struct declaration order on the wire.
	encMode, err = cbor.EncOptions{Sort: cbor.SortNone}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// SigningKey is the immutable process-wide credential signing secret.
type SigningKey struct {
	priv      *ecdsa.PrivateKey
	publicRaw []byte
}

// NewSigningKey validates a raw 32-byte scalar. Zero and values not below the
// curve order are rejected.
func NewSigningKey(raw []byte) (*SigningKey, error) {
	if len(raw) != SigningKeySize {
		return nil, newErrorf(ErrCodeConfig, "signing key must be %d bytes, got %d", SigningKeySize, len(raw))
	}
	ecdhKey, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, newError(ErrCodeConfig, fmt.Errorf("invalid P-256 scalar: %w", err))
	}
	pub := ecdhKey.PublicKey().Bytes()
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:]),
		},
		D: new(big.Int).SetBytes(raw),
	}
	return &SigningKey{priv: priv, publicRaw: pub}, nil
}

// ParseSigningKey decodes a hex-encoded 32-byte scalar.
func ParseSigningKey(hexKey string) (*SigningKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, newError(ErrCodeConfig, errors.New("signing key is required"))
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, newError(ErrCodeConfig, fmt.Errorf("signing key is not hex: %w", err))
	}
	return NewSigningKey(raw)
}

// DerivePublicKey loads the signing key from cfg and returns the verifying key
// as lowercase hex of the uncompressed point.
func DerivePublicKey(cfg Config) (string, error) {
	key, err := ParseSigningKey(cfg.SigningKeyHex)
	if err != nil {
		return "", err
	}
	return key.PublicKeyHex(), nil
}

// PublicKeyHex returns the 130-character hex form of the verifying key.
func (k *SigningKey) PublicKeyHex() string {
	return hex.EncodeToString(k.publicRaw)
}

// PublicKey returns the verifying key.
func (k *SigningKey) PublicKey() *ecdsa.PublicKey {
	pub := k.priv.PublicKey
	return &pub
}

// String never reveals the secret.
func (k *SigningKey) String() string {
	return "[redacted]"
}

// LogValue never reveals the secret.
func (k *SigningKey) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

// Signer produces signed credential records.
type Signer struct {
	key *SigningKey
}

// NewSigner returns a Signer bound to key.
func NewSigner(key *SigningKey) (*Signer, error) {
	if key == nil {
		return nil, newError(ErrCodeConfig, errors.New("signing key is required"))
	}
	return &Signer{key: key}, nil
}

// Sign serializes p and returns serialized||signature. Signatures are
// deterministic (RFC 6979), so equal payloads yield equal records.
func (s *Signer) Sign(p Payload) ([]byte, error) {
	body, err := MarshalPayload(p)
	if err != nil {
		return nil, err
	}
	sig, err := s.signRaw(body)
	if err != nil {
		return nil, err
	}
	record := make([]byte, 0, len(body)+SignatureSize)
	record = append(record, body...)
	return append(record, sig...), nil
}

func (s *Signer) signRaw(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	// A nil rand selects deterministic nonces.
	der, err := s.key.priv.Sign(nil, digest[:], crypto.SHA256)
	if err != nil {
		return nil, newError(ErrCodeEncoding, fmt.Errorf("sign: %w", err))
	}
	r, sv, err := parseDERSignature(der)
	if err != nil {
		return nil, newError(ErrCodeEncoding, err)
	}
	out := make([]byte, SignatureSize)
	r.FillBytes(out[:32])
	sv.FillBytes(out[32:])
	return out, nil
}

func parseDERSignature(der []byte) (*big.Int, *big.Int, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, errors.New("malformed DER signature")
	}
	return r, s, nil
}

// MarshalPayload returns the canonical binary form of p.
func MarshalPayload(p Payload) ([]byte, error) {
	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, newError(ErrCodeEncoding, fmt.Errorf("marshal payload: %w", err))
	}
	return b, nil
}

// UnmarshalPayload decodes a serialized payload.
func UnmarshalPayload(b []byte) (Payload, error) {
	var p Payload
	if err := decMode.Unmarshal(b, &p); err != nil {
		return Payload{}, newError(ErrCodeEncoding, fmt.Errorf("unmarshal payload: %w", err))
	}
	return p, nil
}

// SplitRecord separates a signed record into payload bytes and signature.
func SplitRecord(record []byte) (payload, sig []byte, err error) {
	if len(record) <= SignatureSize {
		return nil, nil, newErrorf(ErrCodeEncoding, "record is %d bytes, need more than %d", len(record), SignatureSize)
	}
	cut := len(record) - SignatureSize
	return record[:cut], record[cut:], nil
}

// ParsePublicKeyHex decodes a hex uncompressed P-256 point.
func ParsePublicKeyHex(hexKey string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, newError(ErrCodeConfig, fmt.Errorf("public key is not hex: %w", err))
	}
	if len(raw) != PublicKeySize || raw[0] != 0x04 {
		return nil, newErrorf(ErrCodeConfig, "public key must be a %d-byte uncompressed point", PublicKeySize)
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, newError(ErrCodeConfig, fmt.Errorf("public key not on P-256: %w", err))
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:]),
	}, nil
}

// VerifySignature checks a raw r||s signature over data.
func VerifySignature(pub *ecdsa.PublicKey, data, sig []byte) bool {
	if pub == nil || len(sig) != SignatureSize {
		return false
	}
	digest := sha256.Sum256(data)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, digest[:], r, s)
}
