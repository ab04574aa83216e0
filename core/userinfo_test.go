package core

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestProject(t *testing.T) {
	full := &Identity{
		Claims: []Claim{
			NewClaim(ClaimSubject, "U1"),
			NewClaim(ClaimName, "Ann"),
			NewClaim(ClaimGivenName, "Ann"),
			NewClaim(ClaimFamilyName, "Example"),
			{Type: ClaimUpdatedAt, Value: "1483225200", ValueType: ValueTypeInteger},
			NewClaim(ClaimEmail, "ann@example.com"),
			NewClaim(ClaimPhoneNumber, "+1 555"),
			{Type: ClaimAddress, Value: `{"country":"NZ","locality":"Wellington"}`, ValueType: ValueTypeJSON},
		},
	}

	for _, tc := range []struct {
		Name    string
		Ident   *Identity
		Granted Scopes
		Want    Userinfo
	}{
		{
			Name:  "no scopes",
			Ident: full,
			Want:  Userinfo{"sub": "U1", "name": "Ann"},
		},
		{
			Name:    "phone",
			Ident:   full,
			Granted: Scopes{ScopeOpenID, ScopePhone},
			Want: Userinfo{
				"sub":                   "U1",
				"name":                  "Ann",
				"phone_number":          "+1 555",
				"phone_number_verified": false,
			},
		},
		{
			Name:    "email",
			Ident:   full,
			Granted: Scopes{ScopeEmail},
			Want: Userinfo{
				"sub":            "U1",
				"name":           "Ann",
				"email":          "ann@example.com",
				"email_verified": false,
			},
		},
		{
			Name:    "profile",
			Ident:   full,
			Granted: Scopes{ScopeProfile},
			Want: Userinfo{
				"sub":         "U1",
				"name":        "Ann",
				"given_name":  "Ann",
				"family_name": "Example",
				"updated_at":  int64(1483225200),
			},
		},
		{
			Name:    "address",
			Ident:   full,
			Granted: Scopes{ScopeAddress},
			Want: Userinfo{
				"sub":  "U1",
				"name": "Ann",
				"address": map[string]interface{}{
					"country":  "NZ",
					"locality": "Wellington",
				},
			},
		},
		{
			Name:    "address scope without claim",
			Ident:   annIdentity(),
			Granted: Scopes{ScopeAddress, ScopeProfile},
			Want:    Userinfo{"sub": "U1", "name": "Ann"},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			got, err := Project(tc.Ident, tc.Granted)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.Want, got); diff != "" {
				t.Errorf("want(-) got(+): %s", diff)
			}
		})
	}
}

func TestProjectMalformed(t *testing.T) {
	for _, tc := range []struct {
		Name    string
		Claim   Claim
		Granted Scopes
	}{
		{
			Name:    "updated_at",
			Claim:   Claim{Type: ClaimUpdatedAt, Value: "yesterday", ValueType: ValueTypeInteger},
			Granted: Scopes{ScopeProfile},
		},
		{
			Name:    "address",
			Claim:   Claim{Type: ClaimAddress, Value: "1600 Pennsylvania Ave", ValueType: ValueTypeJSON},
			Granted: Scopes{ScopeAddress},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := Project(annIdentity(tc.Claim), tc.Granted)
			var merr *MalformedClaimError
			if !errors.As(err, &merr) {
				t.Fatalf("want *MalformedClaimError, got %v", err)
			}
			if merr.Type != tc.Claim.Type {
				t.Errorf("want error for %s, got %s", tc.Claim.Type, merr.Type)
			}
		})
	}

	// the malformed claims are not looked at without their scope
	if _, err := Project(annIdentity(Claim{Type: ClaimUpdatedAt, Value: "x"}), Scopes{ScopeEmail}); err != nil {
		t.Errorf("want no error, got %v", err)
	}
}
