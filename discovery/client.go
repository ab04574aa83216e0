package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"gopkg.in/square/go-jose.v2"
)

const oidcwk = "/.well-known/openid-configuration"

// Client fetches the provider metadata for a given issuer, and the signing
// keys on demand. It is used to check a running provider.
//
// It should be created via `NewClient` to ensure it is initialized correctly.
type Client struct {
	md *ProviderMetadata

	hc *http.Client

	jwks   jose.JSONWebKeySet
	jwksMu sync.Mutex
}

// ClientOpt is an option that can configure a client
type ClientOpt func(c *Client)

// WithHTTPClient will set a http.Client for the initial discovery, and key
// fetching. If not set, http.DefaultClient will be used.
func WithHTTPClient(hc *http.Client) func(c *Client) {
	return func(c *Client) {
		c.hc = hc
	}
}

// NewClient will initialize a Client, performing the initial discovery.
func NewClient(ctx context.Context, issuer string, opts ...ClientOpt) (*Client, error) {
	c := &Client{
		md: &ProviderMetadata{},
		hc: http.DefaultClient,
	}

	for _, o := range opts {
		o(c)
	}

	if err := c.getJSON(ctx, strings.TrimSuffix(issuer, "/")+oidcwk, c.md); err != nil {
		return nil, fmt.Errorf("fetching provider metadata: %w", err)
	}

	if c.md.Issuer != strings.TrimSuffix(issuer, "/") {
		return nil, fmt.Errorf("issuer %q in provider metadata does not match %q", c.md.Issuer, issuer)
	}

	return c, nil
}

// Metadata returns the ProviderMetadata that was retrieved when the client was
// instantiated
func (c *Client) Metadata() *ProviderMetadata {
	return c.md
}

// GetPublicKeys will fetch and return the JWKS endpoint for this metadata. each
// request will perform a new HTTP request to the endpoint.
func (c *Client) GetPublicKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	if c.md.JWKSURI == "" {
		return nil, fmt.Errorf("metadata has no JWKS endpoint, cannot fetch keys")
	}

	ks := &jose.JSONWebKeySet{}
	if err := c.getJSON(ctx, c.md.JWKSURI, ks); err != nil {
		return nil, fmt.Errorf("fetching keys: %w", err)
	}

	return ks.Keys, nil
}

func (c *Client) getJSON(ctx context.Context, url string, into interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(into); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

// GetPublicKey will return the key for the given kid. If the key has already
// been fetched, no network request will be made - the cached version will be
// returned. Otherwise, a call to the keys endpoint will be made.
func (c *Client) GetPublicKey(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	c.jwksMu.Lock()
	defer c.jwksMu.Unlock()

	for _, k := range c.jwks.Keys {
		if k.KeyID == kid {
			return &k, nil
		}
	}

	keys, err := c.GetPublicKeys(ctx)
	if err != nil {
		return nil, err
	}

	c.jwks = jose.JSONWebKeySet{
		Keys: keys,
	}

	// try again, with the fresh set
	for _, k := range c.jwks.Keys {
		if k.KeyID == kid {
			return &k, nil
		}
	}

	return nil, fmt.Errorf("key %s not found", kid)
}
