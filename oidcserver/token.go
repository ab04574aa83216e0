package oidcserver

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	tokenLen = 32
)

// bcryptCost is the cost secrets are hashed with. Tests lower it.
var bcryptCost = bcrypt.DefaultCost

// opaqueToken is a reference token, authorization code or refresh token. The
// user holds ID and Secret, storage only holds the ID and a hash of the
// secret.
type opaqueToken struct {
	ID     string
	Secret []byte
}

// newToken generates a fresh token from random data, returning it along with
// the hash to store.
func newToken() (*opaqueToken, []byte, error) {
	b := make([]byte, tokenLen)
	if _, err := rand.Read(b); err != nil {
		return nil, nil, fmt.Errorf("error reading random data: %w", err)
	}

	bc, err := bcrypt.GenerateFromPassword(b, bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash token: %w", err)
	}

	return &opaqueToken{ID: NewID(), Secret: b}, bc, nil
}

// String returns the value handed to the user.
func (o *opaqueToken) String() string {
	return o.ID + "." + base64.RawURLEncoding.EncodeToString(o.Secret)
}

// parseToken reverses String.
func parseToken(tok string) (*opaqueToken, error) {
	sp := strings.SplitN(tok, ".", 2)
	if len(sp) != 2 || sp[0] == "" || sp[1] == "" {
		return nil, fmt.Errorf("token is not in id.secret form")
	}
	b, err := base64.RawURLEncoding.DecodeString(sp[1])
	if err != nil {
		return nil, fmt.Errorf("base64 decode of token secret failed: %w", err)
	}
	return &opaqueToken{ID: sp[0], Secret: b}, nil
}

// matches compares the token's secret with the stored hash.
func (o *opaqueToken) matches(hash []byte) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, o.Secret)
	if err == nil {
		// no error in comparison, they match
		return true, nil
	} else if err == bcrypt.ErrMismatchedHashAndPassword {
		// they do not match, this isn't an error per se.
		return false, nil
	}
	return false, fmt.Errorf("failed comparing tokens: %w", err)
}
