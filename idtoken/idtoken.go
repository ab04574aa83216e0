// Package idtoken is the JSON representation of OIDC ID tokens.
package idtoken

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"strconv"
	"time"
)

// Claims is the payload of an issued ID token. Claims that have no field
// here, like name or email, are carried in Extra.
//
// https://openid.net/specs/openid-connect-core-1_0.html#IDToken
type Claims struct {
	Issuer   string   `json:"iss,omitempty"`
	Subject  string   `json:"sub,omitempty"`
	Audience Audience `json:"aud,omitempty"`
	// Expiry, NotBefore and IssuedAt are seconds since the epoch.
	Expiry    UnixTime `json:"exp,omitempty"`
	NotBefore UnixTime `json:"nbf,omitempty"`
	IssuedAt  UnixTime `json:"iat,omitempty"`
	// AuthTime is when the user signed in, as opposed to when this token was
	// issued.
	AuthTime UnixTime `json:"auth_time,omitempty"`
	// Nonce is passed through unmodified from the authorization request.
	Nonce string   `json:"nonce,omitempty"`
	ACR   string   `json:"acr,omitempty"`
	AMR   []string `json:"amr,omitempty"`
	AZP   string   `json:"azp,omitempty"`
	// AccessTokenHash binds the token to an access token issued alongside it
	// from the authorization endpoint. See AccessTokenHash.
	AccessTokenHash string `json:"at_hash,omitempty"`

	// Extra are additional claims, that the standard claims will be merged in
	// to. If a key is overridden here, the struct value wins.
	Extra map[string]interface{} `json:"-"`

	// keep the raw data here, so we can unmarshal in to custom structs
	raw json.RawMessage
}

func (i Claims) MarshalJSON() ([]byte, error) {
	// avoid recursing on this method
	type ids Claims
	id := ids(i)

	sj, err := json.Marshal(&id)
	if err != nil {
		return nil, err
	}

	sm := map[string]interface{}{}
	if err := json.Unmarshal(sj, &sm); err != nil {
		return nil, err
	}

	om := map[string]interface{}{}

	for k, v := range i.Extra {
		om[k] = v
	}

	for k, v := range sm {
		om[k] = v
	}

	return json.Marshal(om)
}

func (i *Claims) UnmarshalJSON(b []byte) error {
	type ids Claims
	id := ids{}

	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}

	em := map[string]interface{}{}

	if err := json.Unmarshal(b, &em); err != nil {
		return err
	}

	for _, f := range []string{
		"iss", "sub", "aud", "exp", "nbf", "iat", "auth_time", "nonce", "acr", "amr", "azp", "at_hash",
	} {
		delete(em, f)
	}

	if len(em) > 0 {
		id.Extra = em
	}

	id.raw = b

	*i = Claims(id)

	return nil
}

// Unmarshal unpacks the raw JSON data from this token into the passed type.
func (i *Claims) Unmarshal(into interface{}) error {
	if i.raw == nil {
		// gracefully handle the weird case where the user might want to call
		// this on a struct of their own creation, rather than one retrieved
		// from a remote source
		b, err := json.Marshal(i)
		if err != nil {
			return err
		}
		i.raw = b
	}
	return json.Unmarshal(i.raw, into)
}

// Audience represents a OIDC ID Token's Audience field.
type Audience []string

// Contains returns true if a passed audence is found in the token's set
func (a Audience) Contains(aud string) bool {
	for _, ia := range a {
		if ia == aud {
			return true
		}
	}
	return false
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

func (a *Audience) UnmarshalJSON(b []byte) error {
	var ua interface{}
	if err := json.Unmarshal(b, &ua); err != nil {
		return err
	}

	switch ja := ua.(type) {
	case string:
		*a = []string{ja}
	case []interface{}:
		aa := make([]string, len(ja))
		for i, ia := range ja {
			sa, ok := ia.(string)
			if !ok {
				return fmt.Errorf("failed to unmarshal audience, expected []string but found %T", ia)
			}
			aa[i] = sa
		}
		*a = aa
	default:
		return fmt.Errorf("failed to unmarshal audience, expected string or []string but found %T", ua)
	}

	return nil
}

// UnixTime represents the number representing the number of seconds from
// 1970-01-01T0:0:0Z as measured in UTC until the date/time. This is the type
// IDToken uses to represent dates
type UnixTime int64

// NewUnixTime creates a UnixTime from the given Time, t
func NewUnixTime(t time.Time) UnixTime {
	return UnixTime(t.Unix())
}

// Time returns the *time.Time this represents
func (u UnixTime) Time() time.Time {
	return time.Unix(int64(u), 0)
}

func (u UnixTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(u), 10)), nil
}

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	p, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse UnixTime: %v", err)
	}
	*u = UnixTime(p)
	return nil
}

// AccessTokenHash returns the at_hash value for accessToken, for a token
// signed with alg. This is the base64url encoded left half of the hash of
// the token, using the hash function of alg.
//
// https://openid.net/specs/openid-connect-core-1_0.html#ImplicitIDToken
func AccessTokenHash(alg, accessToken string) (string, error) {
	var h hash.Hash
	switch alg {
	case "RS256", "ES256", "PS256", "HS256":
		h = sha256.New()
	case "RS384", "ES384", "PS384", "HS384":
		h = sha512.New384()
	case "RS512", "ES512", "PS512", "HS512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	_, _ = h.Write([]byte(accessToken))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
