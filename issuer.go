package memberid

import (
	"context"
	"log/slog"
	"time"
)

// Credential is a signed, encoded membership credential.
type Credential struct {
	QR        string `json:"qr"`
	IssuedAt  uint64 `json:"iat"`
	ExpiresAt uint64 `json:"exp"`
}

// TokenVerifier validates upstream bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Issuer runs the full pipeline: verify, authorize, build, sign, encode.
type Issuer struct {
	verifier    TokenVerifier
	builder     *Builder
	signer      *Signer
	key         *SigningKey
	appValidity time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

// IssuerOption customizes an Issuer.
type IssuerOption func(*Issuer)

// WithLogger sets the logger failures and issuances are recorded to.
func WithLogger(l *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics records issuance outcomes.
func WithMetrics(m *Metrics) IssuerOption {
	return func(i *Issuer) {
		i.metrics = m
	}
}

// WithVerifier replaces the token verifier built from the config.
func WithVerifier(v TokenVerifier) IssuerOption {
	return func(i *Issuer) {
		if v != nil {
			i.verifier = v
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer validates cfg and wires the pipeline. key is the process-wide
// signing secret and is passed explicitly so tests can substitute fixtures.
func NewIssuer(cfg Config, key *SigningKey, opts ...IssuerOption) (*Issuer, error) {
	cfg.normalize()
	if key == nil {
		parsed, err := ParseSigningKey(cfg.SigningKeyHex)
		if err != nil {
			return nil, err
		}
		key = parsed
	}
	if err := cfg.validateUpstream(); err != nil {
		return nil, err
	}
	signer, err := NewSigner(key)
	if err != nil {
		return nil, err
	}

	i := &Issuer{
		builder:     NewBuilder(cfg.MembershipGroup, cfg.MaxFieldLength),
		signer:      signer,
		key:         key,
		appValidity: cfg.AppValidity,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.verifier == nil {
		keys := NewKeySetClient(
			WithFetchTimeout(cfg.FetchTimeout),
			WithCoalescing(cfg.CoalesceFetches),
			WithKeySetMetrics(i.metrics),
		)
		v, err := NewVerifier(cfg, keys)
		if err != nil {
			return nil, err
		}
		i.verifier = v
	}
	return i, nil
}

// PublicKeyHex returns the verifying key scanners use.
func (i *Issuer) PublicKeyHex() string {
	return i.key.PublicKeyHex()
}

// IssueApp issues an app-scan credential valid for the configured app validity.
func (i *Issuer) IssueApp(ctx context.Context, token string) (Credential, error) {
	return i.Issue(ctx, token, TypeApp, uint64(i.appValidity/time.Second))
}

// IssueWallet issues a wallet credential that expires at the current semester end.
func (i *Issuer) IssueWallet(ctx context.Context, token string, tag TypeTag) (Credential, Semester, error) {
	if !tag.Wallet() {
		err := newErrorf(ErrCodeUnknownType, "%q is not a wallet type", string(tag))
		i.fail(tag, err)
		return Credential{}, Semester{}, err
	}
	now := i.now()
	sem := CurrentSemester(now)
	cred, err := i.issue(ctx, token, tag, now, sem.RemainingSeconds(now))
	if err != nil {
		return Credential{}, Semester{}, err
	}
	return cred, sem, nil
}

// Issue verifies token and issues a credential of type tag. On failure no part of
// the credential is returned.
func (i *Issuer) Issue(ctx context.Context, token string, tag TypeTag, validitySeconds uint64) (Credential, error) {
	return i.issue(ctx, token, tag, i.now(), validitySeconds)
}

func (i *Issuer) issue(ctx context.Context, token string, tag TypeTag, now time.Time, validitySeconds uint64) (Credential, error) {
	claims, err := i.verifier.Verify(ctx, token)
	if err != nil {
		i.fail(tag, err)
		return Credential{}, err
	}
	payload, err := i.builder.BuildAt(claims, tag, uint64(now.Unix()), validitySeconds)
	if err != nil {
		i.fail(tag, err)
		return Credential{}, err
	}
	record, err := i.signer.Sign(payload)
	if err != nil {
		i.fail(tag, err)
		return Credential{}, err
	}
	qr, err := Encode(record)
	if err != nil {
		i.fail(tag, err)
		return Credential{}, err
	}

	i.metrics.observeIssued(tag)
	i.logger.InfoContext(ctx, "credential issued",
		slog.String("subject", payload.Subject),
		slog.String("type", tag.String()),
		slog.Uint64("exp", payload.ExpiresAt),
	)
	return Credential{QR: qr, IssuedAt: payload.IssuedAt, ExpiresAt: payload.ExpiresAt}, nil
}

func (i *Issuer) fail(tag TypeTag, err error) {
	i.metrics.observeFailure(err)
	code := CodeOf(err)
	i.logger.Warn("credential issuance failed",
		slog.String("code", string(code)),
		slog.String("component", code.Component()),
		slog.String("type", tag.String()),
		slog.Any("error", err),
	)
}
