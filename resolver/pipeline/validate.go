package pipeline

import (
	"context"
	"fmt"

	"tuneresolve/resolver"
	"tuneresolve/resolver/source"
)

// Validator probes candidate URLs before they are handed to a player.
// Providers routinely return URLs that are already expired or region
// locked, and those only show up at fetch time.
type Validator struct {
	http   *source.HTTPClient
	logger resolver.Logger
}

func NewValidator(httpClient *source.HTTPClient, logger resolver.Logger) *Validator {
	return &Validator{http: httpClient, logger: logger}
}

// Validate issues a HEAD probe against rawURL. Success and redirect classes
// count as live; anything else is a dead URL and fails as unreachable.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	status, err := v.http.Head(ctx, rawURL)
	if err != nil {
		return err
	}
	if status >= 200 && status < 400 {
		return nil
	}
	return fmt.Errorf("dead url, status %d: %w", status, source.ErrUnreachable)
}
