// Package core holds the decisions this provider makes on top of the OIDC
// protocol machinery: whether an authorization request can reuse the current
// session, which scopes a new grant receives, which token each claim is
// embedded in, and what the userinfo endpoint returns for a set of scopes.
//
// Everything in this package is pure. It performs no I/O, holds no state
// between calls and is safe for concurrent use.
//
// https://openid.net/specs/openid-connect-core-1_0.html
package core
