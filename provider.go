package memberid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// TokenFactory allows callers to override how upstream tokens are minted.
type TokenFactory func(context.Context, ProviderConfig, ProviderParams) (oauth2.TokenSource, error)

// ProviderConfig describes the upstream identity provider's token endpoint.
type ProviderConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// IDToken selects the id_token from the token response instead of the
	// access token.
	IDToken      bool
	TokenFactory TokenFactory
}

// Provider obtains upstream bearer tokens through the resource-owner password
// grant and refreshes them. Token sources are cached per (user, scopes) pair.
type Provider struct {
	mu      sync.RWMutex
	cfg     ProviderConfig
	factory TokenFactory
	entries map[providerKey]*tokenSourceEntry
}

type providerKey struct {
	Username string
	Scopes   string
}

type tokenSourceEntry struct {
	source oauth2.TokenSource
}

// ProviderParams carries per-call credentials.
type ProviderParams struct {
	Username string
	Password string
	Scopes   []string
}

// TokenOption customizes the behaviour for a single Token call.
type TokenOption func(*ProviderParams)

// WithScopes overrides the requested scopes.
func WithScopes(scopes ...string) TokenOption {
	return func(p *ProviderParams) {
		p.Scopes = append([]string(nil), scopes...)
	}
}

// NewProvider constructs a Provider for cfg.
func NewProvider(cfg ProviderConfig) *Provider {
	factory := cfg.TokenFactory
	if factory == nil {
		factory = passwordGrantFactory
	}
	cfg.Scopes = append([]string(nil), cfg.Scopes...)
	return &Provider{
		cfg:     cfg,
		factory: factory,
		entries: make(map[providerKey]*tokenSourceEntry),
	}
}

// Token returns a bearer token for username.
func (p *Provider) Token(ctx context.Context, username, password string, opts ...TokenOption) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", errors.New("username is required")
	}

	params := ProviderParams{
		Username: username,
		Password: password,
		Scopes:   append([]string(nil), p.cfg.Scopes...),
	}
	for _, opt := range opts {
		opt(&params)
	}

	key := providerKey{
		Username: params.Username,
		Scopes:   strings.Join(params.Scopes, " "),
	}

	entry, err := p.getOrCreate(ctx, key, params)
	if err != nil {
		return "", err
	}

	tok, err := entry.source.Token()
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if p.cfg.IDToken {
		idToken, _ := tok.Extra("id_token").(string)
		if idToken == "" {
			return "", errors.New("token response did not include id_token")
		}
		return idToken, nil
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access token returned")
	}
	return tok.AccessToken, nil
}

func (p *Provider) getOrCreate(ctx context.Context, key providerKey, params ProviderParams) (*tokenSourceEntry, error) {
	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		return entry, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok = p.entries[key]; ok {
		return entry, nil
	}

	// The source refreshes long after this call returns.
	ts, err := p.factory(context.WithoutCancel(ctx), p.cfg, params)
	if err != nil {
		return nil, err
	}
	entry = &tokenSourceEntry{source: oauth2.ReuseTokenSource(nil, ts)}
	p.entries[key] = entry
	return entry, nil
}

func passwordGrantFactory(ctx context.Context, cfg ProviderConfig, params ProviderParams) (oauth2.TokenSource, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("token url is required")
	}
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       params.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tok, err := conf.PasswordCredentialsToken(ctx, params.Username, params.Password)
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", err)
	}
	return conf.TokenSource(ctx, tok), nil
}
