// Package directory resolves logical application, environment, country
// and endpoint identifiers against the external lookup service.
package directory

import (
	"context"
	"fmt"
)

// Scope carries the identifiers resolved for an app/env/country triple.
type Scope struct {
	AppID     string `json:"app_id" mapstructure:"app_id"`
	EnvID     string `json:"env_id" mapstructure:"env_id"`
	CountryID string `json:"country_id,omitempty" mapstructure:"country_id"`
}

// Endpoint is one entry from the directory's endpoint catalogue.
type Endpoint struct {
	Name          string `json:"name" mapstructure:"name"`
	URL           string `json:"url" mapstructure:"url"`
	Method        string `json:"method,omitempty" mapstructure:"method"`
	CountryScoped bool   `json:"country_scoped" mapstructure:"country_scoped"`
}

// ResolutionError describes a failed lookup, naming the missing key so
// the submitter gets an actionable message.
type ResolutionError struct {
	Kind string // "application", "environment", "country", "endpoint"
	Key  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s %q not found in directory", e.Kind, e.Key)
}

// Resolver is the external lookup service contract consumed by the
// orchestrator.
type Resolver interface {
	// Resolve maps logical codes to directory identifiers.
	Resolve(ctx context.Context, appCode, envCode, countryCode string) (*Scope, error)

	// FindEndpoint returns the URL for a logical endpoint name. The
	// country-scoped endpoint wins; an environment-global endpoint is
	// the fallback. A missing endpoint yields a ResolutionError.
	FindEndpoint(ctx context.Context, scope *Scope, name string) (string, error)

	// ListEndpoints returns the endpoint catalogue for the scope.
	ListEndpoints(ctx context.Context, scope *Scope) ([]Endpoint, error)
}

// findInCatalogue applies the country-first-then-global policy over an
// endpoint list. Shared by the HTTP and static implementations.
func findInCatalogue(endpoints []Endpoint, name string) (string, error) {
	var global string

	for _, ep := range endpoints {
		if ep.Name != name {
			continue
		}

		if ep.CountryScoped {
			return ep.URL, nil
		}

		if global == "" {
			global = ep.URL
		}
	}

	if global != "" {
		return global, nil
	}

	return "", &ResolutionError{Kind: "endpoint", Key: name}
}
