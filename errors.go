package memberid

import (
	"errors"
	"fmt"
)

// ErrorCode represents failure categories of the credential pipeline.
type ErrorCode string

const (
	ErrCodeConfig ErrorCode = "config_error"

	ErrCodeUpstream    ErrorCode = "upstream_error"
	ErrCodeKeyNotFound ErrorCode = "key_not_found"

	ErrCodeHeader           ErrorCode = "header_error"
	ErrCodeKeyFormat        ErrorCode = "key_format_error"
	ErrCodeExpired          ErrorCode = "token_expired"
	ErrCodeBadSignature     ErrorCode = "bad_signature"
	ErrCodeAudienceMismatch ErrorCode = "audience_mismatch"
	ErrCodeInvalidToken     ErrorCode = "invalid_token"
	ErrCodeInvalidClaims    ErrorCode = "invalid_claims"

	ErrCodeAuthorization ErrorCode = "authorization_error"
	ErrCodeRange         ErrorCode = "range_error"
	ErrCodeFieldTooLong  ErrorCode = "field_too_long"
	ErrCodeUnknownType   ErrorCode = "unknown_type"

	ErrCodeEncoding ErrorCode = "encoding_error"

	ErrCodeSignatureInvalid  ErrorCode = "signature_invalid"
	ErrCodeCredentialExpired ErrorCode = "credential_expired"
	ErrCodeTypeNotAllowed    ErrorCode = "type_not_allowed"
	ErrCodeIssuedInFuture    ErrorCode = "issued_in_future"
	ErrCodeValidityTooLong   ErrorCode = "validity_too_long"
)

// Components that own error codes.
const (
	ComponentConfig   = "config"
	ComponentKeySet   = "keyset"
	ComponentVerifier = "verifier"
	ComponentBuilder  = "builder"
	ComponentCodec    = "codec"
	ComponentScan     = "scan"
)

type codeInfo struct {
	component string
	message   string
}

var errorCodes = map[ErrorCode]codeInfo{
	ErrCodeConfig:            {ComponentConfig, "Invalid configuration"},
	ErrCodeUpstream:          {ComponentKeySet, "Key set unavailable"},
	ErrCodeKeyNotFound:       {ComponentKeySet, "Signing key not found"},
	ErrCodeHeader:            {ComponentVerifier, "Invalid token header"},
	ErrCodeKeyFormat:         {ComponentVerifier, "Malformed verification key"},
	ErrCodeExpired:           {ComponentVerifier, "Token expired"},
	ErrCodeBadSignature:      {ComponentVerifier, "Bad token signature"},
	ErrCodeAudienceMismatch:  {ComponentVerifier, "Audience mismatch"},
	ErrCodeInvalidToken:      {ComponentVerifier, "Invalid token"},
	ErrCodeInvalidClaims:     {ComponentVerifier, "Invalid token claims"},
	ErrCodeAuthorization:     {ComponentBuilder, "Membership required"},
	ErrCodeRange:             {ComponentBuilder, "Validity out of range"},
	ErrCodeFieldTooLong:      {ComponentBuilder, "Claim value too long"},
	ErrCodeUnknownType:       {ComponentBuilder, "Unknown credential type"},
	ErrCodeEncoding:          {ComponentCodec, "Encoding failed"},
	ErrCodeSignatureInvalid:  {ComponentScan, "Invalid signature"},
	ErrCodeCredentialExpired: {ComponentScan, "Credential expired"},
	ErrCodeTypeNotAllowed:    {ComponentScan, "Credential type not allowed"},
	ErrCodeIssuedInFuture:    {ComponentScan, "Credential issued in the future"},
	ErrCodeValidityTooLong:   {ComponentScan, "Credential expires too far in the future"},
}

// publicRejection is the only failure text handed to clients.
const publicRejection = "invalid request"

// Error wraps pipeline errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Component reports which pipeline component owns the code.
func (c ErrorCode) Component() string {
	return errorCodes[c].component
}

func newError(code ErrorCode, err error) error {
	msg := errorCodes[code].message
	if msg == "" {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func newErrorf(code ErrorCode, format string, args ...any) error {
	return newError(code, fmt.Errorf(format, args...))
}

// CodeOf extracts the ErrorCode from err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// PublicMessage maps any pipeline failure to the generic client-facing rejection.
// The specific cause stays server-side.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	return publicRejection
}
