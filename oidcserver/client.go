package oidcserver

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/url"

	"github.com/pardot/oidc-compliance/core"
)

// Client represents a registered OAuth2 client.
type Client struct {
	// Client ID and secret used to identify the client.
	ID     string `json:"id" yaml:"id"`
	Secret string `json:"secret" yaml:"secret"`

	// A registered set of redirect URIs. The redirect URI a request names
	// must exactly match one of these, unless the client is public.
	RedirectURIs []string `json:"redirectURIs" yaml:"redirectURIs"`

	// Public clients have no secret, and may use a redirect to a loopback
	// address on any port.
	Public bool `json:"public" yaml:"public"`

	// Scopes the client may be granted. If empty, every scope the server
	// supports can be granted.
	Scopes []string `json:"scopes" yaml:"scopes"`

	// Name is used when displaying this client to the end user.
	Name string `json:"name" yaml:"name"`
}

// IsScopeGrantable returns true if the client may be granted scope.
func (c *Client) IsScopeGrantable(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	return core.Scopes(c.Scopes).Has(scope)
}

// grantableScopes narrows the server's supported scopes to what the client
// may be granted, keeping their order.
func (c *Client) grantableScopes(supported core.Scopes) core.Scopes {
	ret := core.Scopes{}
	for _, s := range supported {
		if c.IsScopeGrantable(s) {
			ret = append(ret, s)
		}
	}
	return ret
}

// authenticate checks the secret the client presented.
func (c *Client) authenticate(secret string) bool {
	if c.Public {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}

// defaultRedirectURI returns the redirect URI to use for a request that
// didn't name one. This is only possible when a single URI is registered.
func (c *Client) defaultRedirectURI() (string, bool) {
	if len(c.RedirectURIs) == 1 {
		return c.RedirectURIs[0], true
	}
	return "", false
}

// validateRedirectURI confirms the redirect URI may be used for the client.
func validateRedirectURI(client *Client, redirectURI string) bool {
	for _, uri := range client.RedirectURIs {
		if redirectURI == uri {
			return true
		}
	}

	if !client.Public {
		return false
	}

	if redirectURI == redirectURIOOB {
		return true
	}

	// Public clients may use any port on a loopback address.
	//
	// https://tools.ietf.org/html/rfc8252#section-7.3
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme != "http" {
		return false
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(u.Host); err == nil {
		host = h
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

const redirectURIOOB = "urn:ietf:wg:oauth:2.0:oob"

// ClientSource can be queried to get information about an oauth2 client.
type ClientSource interface {
	// GetClient returns information about the given client ID. It will be
	// called for each lookup. If the client is not found but no other error
	// occurred, an ErrNoSuchClient should be returned
	GetClient(id string) (*Client, error)
}

// StaticClientSource is a ClientSource backed by a static map of clients.
type StaticClientSource map[string]*Client

// NewStaticClientSource creates a StaticClientSource from a list of clients.
func NewStaticClientSource(clients []*Client) StaticClientSource {
	m := make(map[string]*Client)
	for _, c := range clients {
		m[c.ID] = c
	}

	return StaticClientSource(m)
}

func (s StaticClientSource) GetClient(id string) (*Client, error) {
	client, ok := s[id]
	if !ok {
		return nil, noSuchClientError(fmt.Sprintf("client %q does not exist", id))
	}

	return client, nil
}

// ErrNoSuchClient indicates that the requested client does not exist
type ErrNoSuchClient interface {
	NoSuchClient()
}

type noSuchClientError string

func (e noSuchClientError) Error() string {
	return string(e)
}

func (e noSuchClientError) NoSuchClient() {
}

func isNoSuchClientErr(err error) bool {
	_, ok := err.(ErrNoSuchClient)
	return ok
}
