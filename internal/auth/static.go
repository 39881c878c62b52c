package auth

import (
	"context"
	"net/http"
)

// StaticTokenProvider sends a pre-issued bearer token.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a new static token provider with the given token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// Token returns the configured token.
func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

// InjectHeader injects the static token into the Authorization header.
func (p *StaticTokenProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+p.token)
	return nil
}

func (p *StaticTokenProvider) Close() error {
	return nil
}

// BasicProvider sends HTTP basic credentials.
type BasicProvider struct {
	username string
	password string
}

func NewBasicProvider(username, password string) *BasicProvider {
	return &BasicProvider{username: username, password: password}
}

func (p *BasicProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	req.SetBasicAuth(p.username, p.password)
	return nil
}

func (p *BasicProvider) Close() error {
	return nil
}

// HeaderProvider sends an API key in a named header.
type HeaderProvider struct {
	header string
	value  string
}

func NewHeaderProvider(header, value string) *HeaderProvider {
	return &HeaderProvider{header: http.CanonicalHeaderKey(header), value: value}
}

func (p *HeaderProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	req.Header.Set(p.header, p.value)
	return nil
}

func (p *HeaderProvider) Close() error {
	return nil
}
