// Package discovery serves the provider's OpenID Connect discovery document
// and JWKS, and has a client for fetching them from a running issuer.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html
package discovery
