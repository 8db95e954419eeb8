// Package sso federates authentication across external OAuth2
// identity providers. Each adapter normalizes a provider's code
// exchange and profile shape into one Profile type; the Federation
// maps that profile onto a local user.
package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Tokens is the normalized result of an authorization code exchange.
// IDToken is only populated by OIDC providers.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// Profile is the provider-neutral identity shape. Subject is the
// provider's stable account ID; Email may be empty for providers that
// do not expose one.
type Profile struct {
	Subject  string
	Email    string
	Name     string
	Picture  string
	Provider string
}

// Provider is one external identity source.
type Provider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Tokens, error)
	UserInfo(ctx context.Context, tokens *Tokens) (*Profile, error)
}

// Credentials holds one provider's OAuth2 client registration.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Registry maps enabled provider names to adapters. Providers absent
// from the allow list are never constructed.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds adapters for every allowed provider name.
// redirectBase is the public callback prefix; each provider's redirect
// URL becomes redirectBase + "/" + name. Unknown names are a wiring
// error and fail construction.
func NewRegistry(allowed []string, creds map[string]Credentials, redirectBase string) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(allowed))}

	for _, raw := range allowed {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		cred, ok := creds[name]
		if !ok {
			return nil, fmt.Errorf("sso provider %q: missing credentials", name)
		}
		redirect := strings.TrimSuffix(redirectBase, "/") + "/" + name

		p, err := newProvider(name, cred, redirect)
		if err != nil {
			return nil, err
		}
		r.providers[name] = p
	}

	return r, nil
}

// Register adds a custom adapter under its own name, replacing any
// built-in one. The zero Registry is usable.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[strings.ToLower(p.Name())] = p
}

// Lookup returns the adapter for name, or false when the provider is
// not on the allow list.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names returns the enabled provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// oauthProvider is the shared adapter: an oauth2.Config plus a
// provider-specific profile decoder.
type oauthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	decode      func(body []byte) (*Profile, error)
}

func (p *oauthProvider) Name() string { return p.name }

func (p *oauthProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *oauthProvider) Exchange(ctx context.Context, code string) (*Tokens, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	tokens := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		tokens.IDToken = id
	}
	return tokens, nil
}

func (p *oauthProvider) UserInfo(ctx context.Context, tokens *Tokens) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s userinfo: status %d", p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	profile, err := p.decode(body)
	if err != nil {
		return nil, err
	}
	if profile.Subject == "" {
		return nil, errors.New(p.name + " userinfo: missing subject")
	}
	profile.Provider = p.name
	return profile, nil
}

func decodeJSON(body []byte, v interface{}) error {
	return json.Unmarshal(body, v)
}
