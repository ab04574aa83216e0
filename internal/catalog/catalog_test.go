package catalog

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pardot/oidc-compliance/core"
)

func TestLookupUser(t *testing.T) {
	c := Default()

	for _, tc := range []struct {
		username string
		wantSub  string
		wantOK   bool
	}{
		{username: "John", wantSub: "7DADB7DB-0637-4446-8626-2781B06A9E20", wantOK: true},
		{username: "john", wantSub: "7DADB7DB-0637-4446-8626-2781B06A9E20", wantOK: true},
		{username: " DONALD ", wantSub: "95D7BE81-0CFB-4B52-9C92-33A45747FCEF", wantOK: true},
		{username: "Richard"},
		{username: ""},
	} {
		tc := tc
		t.Run(tc.username, func(t *testing.T) {
			ident, ok := c.LookupUser(tc.username)
			if ok != tc.wantOK {
				t.Fatalf("want found %t, got %t", tc.wantOK, ok)
			}
			if !ok {
				return
			}
			if ident.Subject() != tc.wantSub {
				t.Errorf("want sub %q, got %q", tc.wantSub, ident.Subject())
			}
		})
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	c := Default()

	ident, _ := c.LookupUser("John")
	ident.Claims[1].Value = "Jack"

	again, _ := c.LookupUser("John")
	if got := again.Value(core.ClaimName); got != "John F. Kennedy" {
		t.Errorf("catalog was modified through a returned identity, name is %q", got)
	}
}

func TestUserinfo(t *testing.T) {
	ident, _ := Default().LookupUser("donald")

	ui, err := core.Project(ident, core.Scopes{core.ScopeOpenID, core.ScopeProfile, core.ScopeEmail, core.ScopePhone, core.ScopeAddress})
	if err != nil {
		t.Fatal(err)
	}

	want := core.Userinfo{
		"sub":                   "95D7BE81-0CFB-4B52-9C92-33A45747FCEF",
		"name":                  "Donald J. Trump",
		"given_name":            "Donald",
		"middle_name":           "John",
		"family_name":           "Trump",
		"nickname":              "The Donald",
		"preferred_username":    "Donald",
		"gender":                "male",
		"birthdate":             "1946-06-14",
		"profile":               "https://www.biography.com/people/donald-trump-9511238",
		"website":               "https://www.whitehouse.gov/",
		"locale":                "en-US",
		"zoneinfo":              "America/New York",
		"updated_at":            int64(1483225200),
		"email":                 "donald.john.trump@usa.gov",
		"email_verified":        false,
		"phone_number":          "+1 202-456-1111",
		"phone_number_verified": false,
		"address": map[string]interface{}{
			"country":        "United States of America",
			"locality":       "Washington",
			"postal_code":    "DC 20500",
			"street_address": "1600 Pennsylvania Ave NW",
		},
	}
	if diff := cmp.Diff(want, ui); diff != "" {
		t.Errorf("unexpected userinfo (-want +got):\n%s", diff)
	}
}

func TestUsernames(t *testing.T) {
	got := Default().Usernames()
	sort.Strings(got)
	if diff := cmp.Diff([]string{"Donald", "John"}, got); diff != "" {
		t.Error(diff)
	}
}
