package memberid

import (
	"crypto/ecdsa"
	"errors"
	"strings"
	"time"
)

const (
	minScanLength   = 10
	scanClockSkew   = 300 * time.Second
	scanMaxValidity = 365 * 24 * time.Hour
)

// ScanOptions tune scanner-side checks.
type ScanOptions struct {
	// OnlyApp rejects wallet credentials.
	OnlyApp bool
	// Strict rejects credentials issued in the future, valid for more than a
	// year, or expired beyond the skew tolerance, before checking the signature.
	Strict bool
}

// ScanDebug records intermediate sizes of a decoded scan.
type ScanDebug struct {
	Base45DecodedLength int
	DecompressedLength  int
	PayloadLength       int
	SignatureLength     int
}

// ScanResult is a successfully verified credential.
type ScanResult struct {
	Payload Payload
	Debug   ScanDebug
}

// ScanVerifier checks scanned credentials offline against the published
// verifying key.
type ScanVerifier struct {
	pub  *ecdsa.PublicKey
	opts ScanOptions
	now  func() time.Time
}

// NewScanVerifier parses publicKeyHex (130 hex characters) into a verifier.
func NewScanVerifier(publicKeyHex string, opts ScanOptions) (*ScanVerifier, error) {
	pub, err := ParsePublicKeyHex(publicKeyHex)
	if err != nil {
		return nil, err
	}
	return &ScanVerifier{pub: pub, opts: opts, now: time.Now}, nil
}

// Verify decodes and checks a scan string.
func (v *ScanVerifier) Verify(code string) (ScanResult, error) {
	code = strings.TrimSpace(code)
	if len(code) < minScanLength {
		return ScanResult{}, newErrorf(ErrCodeEncoding, "scan string too short (%d)", len(code))
	}

	var debug ScanDebug
	compressed, err := Base45Decode(code)
	if err != nil {
		return ScanResult{}, err
	}
	debug.Base45DecodedLength = len(compressed)

	record, err := inflate(compressed)
	if err != nil {
		return ScanResult{}, err
	}
	debug.DecompressedLength = len(record)

	body, sig, err := SplitRecord(record)
	if err != nil {
		return ScanResult{}, err
	}
	debug.PayloadLength = len(body)
	debug.SignatureLength = len(sig)

	payload, err := UnmarshalPayload(body)
	if err != nil {
		return ScanResult{}, err
	}
	if err := checkScannedPayload(payload); err != nil {
		return ScanResult{}, err
	}

	if v.opts.OnlyApp && payload.Type != TypeApp {
		return ScanResult{}, newErrorf(ErrCodeTypeNotAllowed, "only app credentials are allowed, found %s", payload.Type)
	}

	now := v.now()
	if v.opts.Strict {
		if err := strictChecks(payload, now); err != nil {
			return ScanResult{}, err
		}
	}

	if !VerifySignature(v.pub, body, sig) {
		return ScanResult{}, newError(ErrCodeSignatureInvalid, errors.New("signature does not match verifying key"))
	}
	if payload.ExpiresAt < uint64(now.Unix()) {
		return ScanResult{}, newErrorf(ErrCodeCredentialExpired, "expired at %d", payload.ExpiresAt)
	}
	return ScanResult{Payload: payload, Debug: debug}, nil
}

func checkScannedPayload(p Payload) error {
	switch {
	case p.Subject == "":
		return newError(ErrCodeEncoding, errors.New("missing sub"))
	case p.Name == "":
		return newError(ErrCodeEncoding, errors.New("missing name"))
	case !p.Type.Valid():
		return newErrorf(ErrCodeEncoding, "invalid type code %q", string(p.Type))
	case p.ExpiresAt <= p.IssuedAt:
		return newErrorf(ErrCodeEncoding, "exp %d not after iat %d", p.ExpiresAt, p.IssuedAt)
	}
	return nil
}

func strictChecks(p Payload, now time.Time) error {
	cur := uint64(now.Unix())
	skew := uint64(scanClockSkew / time.Second)
	switch {
	case p.IssuedAt > cur+skew:
		return newErrorf(ErrCodeIssuedInFuture, "issued at %d, now %d", p.IssuedAt, cur)
	case p.ExpiresAt > cur+uint64(scanMaxValidity/time.Second):
		return newErrorf(ErrCodeValidityTooLong, "expires at %d", p.ExpiresAt)
	case cur > skew && p.ExpiresAt < cur-skew:
		return newErrorf(ErrCodeCredentialExpired, "expired at %d", p.ExpiresAt)
	}
	return nil
}
