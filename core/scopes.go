package core

import "strings"

// Scopes understood by this provider. Any other scope is treated as an opaque
// string.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopePhone         = "phone"
	ScopeAddress       = "address"
	ScopeOfflineAccess = "offline_access"
)

// Scopes is a set of scope values. Order carries no meaning.
type Scopes []string

// ParseScopes splits a space delimited scope parameter.
//
// https://tools.ietf.org/html/rfc6749#section-3.3
func ParseScopes(s string) Scopes {
	f := strings.Fields(s)
	if len(f) == 0 {
		return Scopes{}
	}
	return Scopes(f).dedupe()
}

// Has returns true if the scope is in the set.
func (s Scopes) Has(scope string) bool {
	for _, v := range s {
		if v == scope {
			return true
		}
	}
	return false
}

// String returns the space delimited form of the set.
func (s Scopes) String() string {
	return strings.Join(s, " ")
}

func (s Scopes) dedupe() Scopes {
	ret := make(Scopes, 0, len(s))
	for _, v := range s {
		if !ret.Has(v) {
			ret = append(ret, v)
		}
	}
	return ret
}

// ResolveScopes returns the scopes that are both requested and supported. It
// is used only when creating a new grant, exchanges inherit the scopes of the
// ticket they were issued from. The result follows the order of supported.
func ResolveScopes(requested, supported Scopes) Scopes {
	ret := Scopes{}
	for _, s := range supported {
		if requested.Has(s) && !ret.Has(s) {
			ret = append(ret, s)
		}
	}
	return ret
}
