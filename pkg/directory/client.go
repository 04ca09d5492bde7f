package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

const defaultRequestTimeout = 10 * time.Second

// Client is an HTTP implementation of Resolver talking to the
// directory lookup service.
type Client struct {
	log     logrus.FieldLogger
	baseURL string
	http    *http.Client
}

// Compile-time interface check.
var _ Resolver = (*Client)(nil)

// NewClient creates a resolver against the given directory base URL.
func NewClient(log logrus.FieldLogger, baseURL string) *Client {
	return &Client{
		log:     log.WithField("component", "directory"),
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultRequestTimeout},
	}
}

// Resolve maps logical codes to directory identifiers.
func (c *Client) Resolve(
	ctx context.Context, appCode, envCode, countryCode string,
) (*Scope, error) {
	q := url.Values{}
	q.Set("app", appCode)
	q.Set("env", envCode)

	if countryCode != "" {
		q.Set("country", countryCode)
	}

	payload, status, err := c.get(ctx, "/api/v1/resolve?"+q.Encode())
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound {
		return nil, &ResolutionError{Kind: "application", Key: appCode + "/" + envCode}
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("directory resolve returned status %d", status)
	}

	var scope Scope
	if err := decodeLoose(payload, &scope); err != nil {
		return nil, fmt.Errorf("decoding resolve response: %w", err)
	}

	return &scope, nil
}

// FindEndpoint returns the URL for a logical endpoint name, trying the
// country-scoped entry before the environment-global one.
func (c *Client) FindEndpoint(
	ctx context.Context, scope *Scope, name string,
) (string, error) {
	endpoints, err := c.ListEndpoints(ctx, scope)
	if err != nil {
		return "", err
	}

	return findInCatalogue(endpoints, name)
}

// ListEndpoints returns the endpoint catalogue for the scope.
func (c *Client) ListEndpoints(
	ctx context.Context, scope *Scope,
) ([]Endpoint, error) {
	q := url.Values{}
	q.Set("app_id", scope.AppID)
	q.Set("env_id", scope.EnvID)

	if scope.CountryID != "" {
		q.Set("country_id", scope.CountryID)
	}

	payload, status, err := c.get(ctx, "/api/v1/endpoints?"+q.Encode())
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("directory endpoint listing returned status %d", status)
	}

	var raw struct {
		Endpoints []map[string]any `json:"endpoints"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parsing endpoint listing: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(raw.Endpoints))

	for i, m := range raw.Endpoints {
		var ep Endpoint
		if err := mapstructure.Decode(m, &ep); err != nil {
			// The directory is known to append loosely shaped
			// entries; skip the ones we cannot decode.
			c.log.WithError(err).WithField("index", i).
				Warn("Skipping undecodable endpoint entry")

			continue
		}

		endpoints = append(endpoints, ep)
	}

	return endpoints, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+path, nil,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("creating directory request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling directory service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading directory response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// decodeLoose unmarshals JSON into a map and decodes it through
// mapstructure so unknown or extra fields never fail the lookup.
func decodeLoose(payload []byte, out any) error {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}

	return mapstructure.Decode(m, out)
}
