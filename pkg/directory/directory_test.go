package directory_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadworks/loadoor/pkg/directory"
)

func staticResolver() *directory.StaticResolver {
	return &directory.StaticResolver{
		Scopes: map[string]*directory.Scope{
			"shop/staging": {AppID: "app-1", EnvID: "env-1"},
			"shop/staging/de": {
				AppID: "app-1", EnvID: "env-1", CountryID: "cty-de",
			},
		},
		Endpoints: map[string][]directory.Endpoint{
			"app-1/env-1": {
				{Name: "checkout", URL: "http://global/checkout"},
				{Name: "checkout", URL: "http://de/checkout", CountryScoped: true},
				{Name: "ping", URL: "http://global/ping"},
			},
		},
	}
}

func TestStaticResolver_CountryScopedWins(t *testing.T) {
	r := staticResolver()
	ctx := context.Background()

	scope, err := r.Resolve(ctx, "shop", "staging", "de")
	require.NoError(t, err)
	assert.Equal(t, "cty-de", scope.CountryID)

	url, err := r.FindEndpoint(ctx, scope, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "http://de/checkout", url)
}

func TestStaticResolver_GlobalFallback(t *testing.T) {
	r := staticResolver()
	ctx := context.Background()

	scope, err := r.Resolve(ctx, "shop", "staging", "")
	require.NoError(t, err)

	url, err := r.FindEndpoint(ctx, scope, "ping")
	require.NoError(t, err)
	assert.Equal(t, "http://global/ping", url)
}

func TestStaticResolver_EndpointNotFound(t *testing.T) {
	r := staticResolver()
	ctx := context.Background()

	scope, err := r.Resolve(ctx, "shop", "staging", "")
	require.NoError(t, err)

	_, err = r.FindEndpoint(ctx, scope, "missing")
	require.Error(t, err)

	var rerr *directory.ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "endpoint", rerr.Kind)
	assert.Equal(t, "missing", rerr.Key)
}

func TestStaticResolver_UnknownScope(t *testing.T) {
	r := staticResolver()

	_, err := r.Resolve(context.Background(), "unknown", "qa", "")
	require.Error(t, err)

	var rerr *directory.ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "application", rerr.Kind)
}

func TestClient_ResolveAndList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/v1/resolve":
				_, _ = w.Write([]byte(
					`{"app_id":"app-1","env_id":"env-1","country_id":"cty-de","extra":"ignored"}`,
				))
			case "/api/v1/endpoints":
				_, _ = w.Write([]byte(`{"endpoints":[
					{"name":"checkout","url":"http://de/checkout","country_scoped":true},
					{"name":"checkout","url":"http://global/checkout"}
				]}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		},
	))
	defer srv.Close()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	c := directory.NewClient(log, srv.URL)
	ctx := context.Background()

	scope, err := c.Resolve(ctx, "shop", "staging", "de")
	require.NoError(t, err)
	assert.Equal(t, "app-1", scope.AppID)

	url, err := c.FindEndpoint(ctx, scope, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "http://de/checkout", url)
}

func TestClient_ResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
	))
	defer srv.Close()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	c := directory.NewClient(log, srv.URL)

	_, err := c.Resolve(context.Background(), "ghost", "qa", "")
	require.Error(t, err)

	var rerr *directory.ResolutionError
	require.True(t, errors.As(err, &rerr))
}
