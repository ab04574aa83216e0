package core

import (
	"encoding/json"
	"strconv"
)

// Userinfo is the document returned from the userinfo endpoint.
//
// https://openid.net/specs/openid-connect-core-1_0.html#UserInfoResponse
type Userinfo map[string]interface{}

// profileClaims are returned when the profile scope was granted, in addition
// to sub.
var profileClaims = []string{
	ClaimGender,
	ClaimGivenName,
	ClaimMiddleName,
	ClaimFamilyName,
	ClaimNickname,
	ClaimPreferredUsername,
	ClaimBirthdate,
	ClaimProfile,
	ClaimPicture,
	ClaimWebsite,
	ClaimLocale,
	ClaimZoneinfo,
	ClaimUpdatedAt,
}

// Project builds the userinfo document for the identity, filtered by the
// granted scopes. sub and name are always included. Claims the identity does
// not have are left out.
func Project(ident *Identity, granted Scopes) (Userinfo, error) {
	ui := Userinfo{
		ClaimSubject: ident.Value(ClaimSubject),
		ClaimName:    ident.Value(ClaimName),
	}

	if granted.Has(ScopeProfile) {
		for _, typ := range profileClaims {
			c, ok := ident.FindFirst(typ)
			if !ok {
				continue
			}
			if typ == ClaimUpdatedAt {
				ts, err := strconv.ParseInt(c.Value, 10, 64)
				if err != nil {
					return nil, &MalformedClaimError{Type: typ, Value: c.Value, Cause: err}
				}
				ui[typ] = ts
				continue
			}
			ui[typ] = c.Value
		}
	}

	// TODO: report the verified flags from the catalog once it tracks
	// verification status.
	if granted.Has(ScopeEmail) {
		ui[ClaimEmail] = ident.Value(ClaimEmail)
		ui[ClaimEmailVerified] = false
	}

	if granted.Has(ScopePhone) {
		ui[ClaimPhoneNumber] = ident.Value(ClaimPhoneNumber)
		ui[ClaimPhoneNumberVerified] = false
	}

	if granted.Has(ScopeAddress) {
		if c, ok := ident.FindFirst(ClaimAddress); ok {
			addr := map[string]interface{}{}
			if err := json.Unmarshal([]byte(c.Value), &addr); err != nil {
				return nil, &MalformedClaimError{Type: ClaimAddress, Value: c.Value, Cause: err}
			}
			ui[ClaimAddress] = addr
		}
	}

	return ui, nil
}
