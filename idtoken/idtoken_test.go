package idtoken

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestIDTokenMarshaling(t *testing.T) {
	for _, tc := range []struct {
		Name     string
		Token    Claims
		WantJSON string
	}{
		{
			Name: "basic",
			Token: Claims{
				Issuer:   "http://issuer",
				Audience: Audience{"aud"},
				Expiry:   NewUnixTime(mustTime(time.Parse("2006-Jan-02", "2019-Nov-20"))),
				Extra: map[string]interface{}{
					"name": "John F. Kennedy",
				},
			},
			WantJSON: `{
  "aud": "aud",
  "exp": 1574208000,
  "iss": "http://issuer",
  "name": "John F. Kennedy"
}`,
		},
		{
			Name: "multiple audiences",
			Token: Claims{
				Audience: Audience{"aud1", "aud2"},
			},
			WantJSON: `{
  "aud": [
    "aud1",
    "aud2"
  ]
}`,
		},
		{
			Name: "extra shouldn't shadow primary fields",
			Token: Claims{
				Issuer: "http://issuer",
				Extra: map[string]interface{}{
					"iss": "http://bad",
				},
			},
			WantJSON: `{
  "iss": "http://issuer"
}`,
		},
		{
			Name: "implicit flow token",
			Token: Claims{
				Issuer:          "http://127.0.0.1:62281",
				Subject:         "7DADB7DB-0637-4446-8626-2781B06A9E20",
				Audience:        Audience{"client"},
				Expiry:          1576187854,
				IssuedAt:        1576187824,
				AuthTime:        1576187824,
				Nonce:           "n-0S6_WzA2Mj",
				ACR:             "1",
				AccessTokenHash: "77QmUPtjPfzWtF2AnpK9RQ",
				Extra: map[string]interface{}{
					"email": "john.fitzgerald.kennedy@usa.gov",
					"name":  "John F. Kennedy",
				},
			},
			WantJSON: `{
  "acr": "1",
  "at_hash": "77QmUPtjPfzWtF2AnpK9RQ",
  "aud": "client",
  "auth_time": 1576187824,
  "email": "john.fitzgerald.kennedy@usa.gov",
  "exp": 1576187854,
  "iat": 1576187824,
  "iss": "http://127.0.0.1:62281",
  "name": "John F. Kennedy",
  "nonce": "n-0S6_WzA2Mj",
  "sub": "7DADB7DB-0637-4446-8626-2781B06A9E20"
}`,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			jb, err := json.MarshalIndent(tc.Token, "", "  ")
			if err != nil {
				t.Fatalf("Unexpected error marshaling JSON: %v", err)
			}

			if diff := cmp.Diff(tc.WantJSON, string(jb)); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestIDTokenUnmarshaling(t *testing.T) {
	for _, tc := range []struct {
		Name      string
		JSON      string
		WantToken Claims
	}{
		{
			Name: "basic",
			JSON: `{
  "aud": "aud",
  "exp": 1574208000,
  "name": "John F. Kennedy",
  "iss": "http://issuer"
}`,
			WantToken: Claims{
				Issuer:   "http://issuer",
				Audience: Audience{"aud"},
				Expiry:   NewUnixTime(mustTime(time.Parse("2006-Jan-02", "2019-Nov-20"))),
				Extra: map[string]interface{}{
					"name": "John F. Kennedy",
				},
			},
		},
		{
			Name: "Multiple audiences",
			JSON: `{
  "aud": ["aud1", "aud2"]
}`,
			WantToken: Claims{
				Audience: Audience{"aud1", "aud2"},
			},
		},
		{
			Name: "standard claims are not extra",
			JSON: `{
  "sub": "U1",
  "nbf": 1574208000,
  "at_hash": "abc",
  "acr": "1"
}`,
			WantToken: Claims{
				Subject:         "U1",
				NotBefore:       1574208000,
				AccessTokenHash: "abc",
				ACR:             "1",
			},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			tok := Claims{}
			if err := json.Unmarshal([]byte(tc.JSON), &tok); err != nil {
				t.Fatalf("Unexpected error unmarshaling JSON: %v", err)
			}

			if diff := cmp.Diff(tc.WantToken, tok, cmpopts.IgnoreUnexported(Claims{})); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestAccessTokenHash(t *testing.T) {
	const tok = "id1.c2VjcmV0"

	sum := sha256.Sum256([]byte(tok))
	want := base64.RawURLEncoding.EncodeToString(sum[:16])

	got, err := AccessTokenHash("RS256", tok)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("want %s, got %s", want, got)
	}

	for alg, wantLen := range map[string]int{"ES384": 32, "RS512": 43} {
		h, err := AccessTokenHash(alg, tok)
		if err != nil {
			t.Fatal(err)
		}
		if len(h) != wantLen {
			t.Errorf("%s: want hash length %d, got %d", alg, wantLen, len(h))
		}
	}

	if _, err := AccessTokenHash("none", tok); err == nil {
		t.Error("want error for alg none")
	}
}

func TestUnmarshalInto(t *testing.T) {
	var c Claims
	if err := json.Unmarshal([]byte(`{"sub":"U1","address":{"country":"NZ"}}`), &c); err != nil {
		t.Fatal(err)
	}

	var addr struct {
		Address struct {
			Country string `json:"country"`
		} `json:"address"`
	}
	if err := c.Unmarshal(&addr); err != nil {
		t.Fatal(err)
	}
	if addr.Address.Country != "NZ" {
		t.Errorf("want country NZ, got %q", addr.Address.Country)
	}
}

func mustTime(t time.Time, err error) time.Time {
	if err != nil {
		panic(err)
	}
	return t
}
