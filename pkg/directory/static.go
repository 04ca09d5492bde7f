package directory

import (
	"context"
	"fmt"
)

// StaticResolver serves a fixed catalogue from memory. Used in tests
// and in deployments where the endpoint map lives in config.
type StaticResolver struct {
	// Scopes maps "app/env" (or "app/env/country") to resolved ids.
	Scopes map[string]*Scope

	// Endpoints maps a scope key to its endpoint catalogue.
	Endpoints map[string][]Endpoint
}

// Compile-time interface check.
var _ Resolver = (*StaticResolver)(nil)

// ScopeKey builds the lookup key used by StaticResolver maps.
func ScopeKey(appCode, envCode, countryCode string) string {
	if countryCode == "" {
		return fmt.Sprintf("%s/%s", appCode, envCode)
	}

	return fmt.Sprintf("%s/%s/%s", appCode, envCode, countryCode)
}

// Resolve looks up the scope, falling back from the country-specific
// key to the app/env key.
func (r *StaticResolver) Resolve(
	_ context.Context, appCode, envCode, countryCode string,
) (*Scope, error) {
	if countryCode != "" {
		if s, ok := r.Scopes[ScopeKey(appCode, envCode, countryCode)]; ok {
			return s, nil
		}
	}

	if s, ok := r.Scopes[ScopeKey(appCode, envCode, "")]; ok {
		return s, nil
	}

	return nil, &ResolutionError{
		Kind: "application",
		Key:  ScopeKey(appCode, envCode, countryCode),
	}
}

// FindEndpoint applies the country-first-then-global policy.
func (r *StaticResolver) FindEndpoint(
	ctx context.Context, scope *Scope, name string,
) (string, error) {
	endpoints, err := r.ListEndpoints(ctx, scope)
	if err != nil {
		return "", err
	}

	return findInCatalogue(endpoints, name)
}

// ListEndpoints returns the configured catalogue for the scope.
func (r *StaticResolver) ListEndpoints(
	_ context.Context, scope *Scope,
) ([]Endpoint, error) {
	key := scope.AppID + "/" + scope.EnvID

	eps, ok := r.Endpoints[key]
	if !ok {
		return nil, &ResolutionError{Kind: "environment", Key: key}
	}

	return eps, nil
}
