package memberid

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	maxKeySetBytes = 1 << 20
	minModulusBits = 1024
)

// KeyEntry is one RSA verification key published in a remote key set.
type KeyEntry struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty,omitempty"`
	Algorithm string `json:"alg,omitempty"`
	Modulus   string `json:"n"`
	Exponent  string `json:"e"`
}

// KeySet is a freshly fetched remote key set.
type KeySet struct {
	Keys []KeyEntry `json:"keys"`
}

// Lookup returns the entry whose key identifier matches kid. It never falls back
// to another key.
func (s KeySet) Lookup(kid string) (KeyEntry, error) {
	for _, k := range s.Keys {
		if k.KeyID == kid {
			return k, nil
		}
	}
	return KeyEntry{}, newErrorf(ErrCodeKeyNotFound, "kid %q not in key set", kid)
}

// RSAPublicKey decodes the base64url modulus and exponent.
func (k KeyEntry) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.KeyType != "" && k.KeyType != "RSA" {
		return nil, newErrorf(ErrCodeKeyFormat, "kid %q: unsupported key type %q", k.KeyID, k.KeyType)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(trimPadding(k.Modulus))
	if err != nil || len(nBytes) == 0 {
		return nil, newErrorf(ErrCodeKeyFormat, "kid %q: invalid modulus", k.KeyID)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(trimPadding(k.Exponent))
	if err != nil || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, newErrorf(ErrCodeKeyFormat, "kid %q: invalid exponent", k.KeyID)
	}
	e := new(big.Int).SetBytes(eBytes)
	if e.Int64() < 3 || e.Bit(0) == 0 {
		return nil, newErrorf(ErrCodeKeyFormat, "kid %q: invalid exponent value", k.KeyID)
	}
	n := new(big.Int).SetBytes(nBytes)
	if n.BitLen() < minModulusBits {
		return nil, newErrorf(ErrCodeKeyFormat, "kid %q: modulus too small (%d bits)", k.KeyID, n.BitLen())
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}

// KeySetClient fetches remote key sets. Every Fetch performs a network read; there
// is no cache and no retry.
type KeySetClient struct {
	httpClient *http.Client
	timeout    time.Duration
	metrics    *Metrics
	coalesce   bool
	group      singleflight.Group
}

// KeySetOption customizes a KeySetClient.
type KeySetOption func(*KeySetClient)

// WithHTTPClient overrides the HTTP client used for fetches.
func WithHTTPClient(c *http.Client) KeySetOption {
	return func(k *KeySetClient) {
		if c != nil {
			k.httpClient = c
		}
	}
}

// WithFetchTimeout bounds every fetch.
func WithFetchTimeout(d time.Duration) KeySetOption {
	return func(k *KeySetClient) {
		k.timeout = d
	}
}

// WithCoalescing shares one in-flight fetch between concurrent callers of the same
// URL. Results are not kept once the fetch completes.
func WithCoalescing(enabled bool) KeySetOption {
	return func(k *KeySetClient) {
		k.coalesce = enabled
	}
}

// WithKeySetMetrics records fetch latency.
func WithKeySetMetrics(m *Metrics) KeySetOption {
	return func(k *KeySetClient) {
		k.metrics = m
	}
}

// NewKeySetClient builds a client with the given options.
func NewKeySetClient(opts ...KeySetOption) *KeySetClient {
	k := &KeySetClient{
		timeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.httpClient == nil {
		k.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
	}
	return k
}

// Fetch downloads and decodes the key set at url.
func (k *KeySetClient) Fetch(ctx context.Context, url string) (KeySet, error) {
	if !k.coalesce {
		return k.fetch(ctx, url)
	}
	ch := k.group.DoChan(url, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		fetchCtx := context.WithoutCancel(ctx)
		return k.fetch(fetchCtx, url)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return KeySet{}, res.Err
		}
		return res.Val.(KeySet), nil
	case <-ctx.Done():
		return KeySet{}, newError(ErrCodeUpstream, ctx.Err())
	}
}

func (k *KeySetClient) fetch(ctx context.Context, url string) (set KeySet, err error) {
	start := time.Now()
	defer func() {
		k.metrics.observeFetch(time.Since(start), err)
	}()

	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return KeySet{}, newError(ErrCodeUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return KeySet{}, newError(ErrCodeUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxKeySetBytes))
		return KeySet{}, newError(ErrCodeUpstream, fmt.Errorf("key set endpoint returned %s", resp.Status))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBytes)).Decode(&set); err != nil {
		return KeySet{}, newError(ErrCodeUpstream, fmt.Errorf("decode key set: %w", err))
	}
	if set.Keys == nil {
		return KeySet{}, newError(ErrCodeUpstream, errors.New("key set has no keys field"))
	}
	return set, nil
}
