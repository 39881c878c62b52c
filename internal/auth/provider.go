// Package auth passes caller-supplied credentials through to every request.
// Tokens are never fetched or refreshed here.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/torosent/breakpoint/internal/config"
)

// Provider injects credentials into outgoing HTTP requests.
type Provider interface {
	// InjectHeader sets the credential header on req.
	InjectHeader(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the provider.
	Close() error
}

// New returns the provider described by cfg, or nil when no credentials are
// configured.
func New(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case config.AuthTypeBearer:
		return NewStaticTokenProvider(cfg.Token), nil
	case config.AuthTypeBasic:
		return NewBasicProvider(cfg.Username, cfg.Password), nil
	case config.AuthTypeAPIKey:
		return NewHeaderProvider(cfg.HeaderName, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
	}
}
