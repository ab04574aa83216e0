// Package catalog holds the fixed set of demo users that can sign in to the
// provider.
package catalog

import (
	"strings"

	"github.com/pardot/oidc-compliance/core"
)

// User is a demo account. Claims are in the order they are added to the
// identity.
type User struct {
	Username string
	Claims   []core.Claim
}

// Catalog looks up demo users by their sign-in name.
type Catalog struct {
	users map[string]User
}

// New returns a catalog of the given users. Usernames are matched without
// regard to case.
func New(users ...User) *Catalog {
	c := &Catalog{users: map[string]User{}}
	for _, u := range users {
		c.users[strings.ToLower(u.Username)] = u
	}
	return c
}

// Default returns the catalog with the two built in users, John and Donald.
func Default() *Catalog {
	return New(John(), Donald())
}

// LookupUser returns a fresh identity for the named user.
func (c *Catalog) LookupUser(username string) (*core.Identity, bool) {
	u, ok := c.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, false
	}
	return &core.Identity{
		Claims: append([]core.Claim(nil), u.Claims...),
	}, true
}

// Usernames returns the canonical names of every user.
func (c *Catalog) Usernames() []string {
	var ret []string
	for _, u := range c.users {
		ret = append(ret, u.Username)
	}
	return ret
}

const whiteHouseAddress = `{"country":"United States of America","locality":"Washington","postal_code":"DC 20500","street_address":"1600 Pennsylvania Ave NW"}`

// John is John F. Kennedy.
func John() User {
	return User{
		Username: "John",
		Claims: []core.Claim{
			core.NewClaim(core.ClaimSubject, "7DADB7DB-0637-4446-8626-2781B06A9E20"),
			core.NewClaim(core.ClaimName, "John F. Kennedy"),
			core.NewClaim(core.ClaimGivenName, "John"),
			core.NewClaim(core.ClaimMiddleName, "Fitzgerald"),
			core.NewClaim(core.ClaimFamilyName, "Kennedy"),
			core.NewClaim(core.ClaimNickname, "JFK"),
			core.NewClaim(core.ClaimPreferredUsername, "John"),
			core.NewClaim(core.ClaimGender, "male"),
			core.NewClaim(core.ClaimBirthdate, "1917-05-29"),
			core.NewClaim(core.ClaimProfile, "https://www.biography.com/people/john-f-kennedy-9362930"),
			core.NewClaim(core.ClaimWebsite, "https://www.whitehouse.gov/"),
			core.NewClaim(core.ClaimLocale, "en-US"),
			core.NewClaim(core.ClaimZoneinfo, "America/New York"),
			{Type: core.ClaimUpdatedAt, Value: "1483225200", ValueType: core.ValueTypeInteger},
			core.NewClaim(core.ClaimEmail, "john.fitzgerald.kennedy@usa.gov"),
			core.NewClaim(core.ClaimPhoneNumber, "+1 202-456-1111"),
			{Type: core.ClaimAddress, Value: whiteHouseAddress, ValueType: core.ValueTypeJSON},
		},
	}
}

// Donald is Donald J. Trump.
func Donald() User {
	return User{
		Username: "Donald",
		Claims: []core.Claim{
			core.NewClaim(core.ClaimSubject, "95D7BE81-0CFB-4B52-9C92-33A45747FCEF"),
			core.NewClaim(core.ClaimName, "Donald J. Trump"),
			core.NewClaim(core.ClaimGivenName, "Donald"),
			core.NewClaim(core.ClaimMiddleName, "John"),
			core.NewClaim(core.ClaimFamilyName, "Trump"),
			core.NewClaim(core.ClaimNickname, "The Donald"),
			core.NewClaim(core.ClaimPreferredUsername, "Donald"),
			core.NewClaim(core.ClaimGender, "male"),
			core.NewClaim(core.ClaimBirthdate, "1946-06-14"),
			core.NewClaim(core.ClaimProfile, "https://www.biography.com/people/donald-trump-9511238"),
			core.NewClaim(core.ClaimWebsite, "https://www.whitehouse.gov/"),
			core.NewClaim(core.ClaimLocale, "en-US"),
			core.NewClaim(core.ClaimZoneinfo, "America/New York"),
			{Type: core.ClaimUpdatedAt, Value: "1483225200", ValueType: core.ValueTypeInteger},
			core.NewClaim(core.ClaimEmail, "donald.john.trump@usa.gov"),
			core.NewClaim(core.ClaimPhoneNumber, "+1 202-456-1111"),
			{Type: core.ClaimAddress, Value: whiteHouseAddress, ValueType: core.ValueTypeJSON},
		},
	}
}
