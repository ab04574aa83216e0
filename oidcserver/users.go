package oidcserver

import "github.com/pardot/oidc-compliance/core"

// UserSource resolves the name a user signs in with to their identity.
type UserSource interface {
	// LookupUser returns a new identity for the user each time it is
	// called, so it can be modified by the caller.
	LookupUser(username string) (*core.Identity, bool)
}

// UserLister is implemented by user sources that can list their users, for
// display on the sign in page.
type UserLister interface {
	Usernames() []string
}
