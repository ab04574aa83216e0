package oidcserver

import (
	"crypto/rand"
	"encoding/base32"
	"io"
	"strings"
)

// Keyspaces grants are stored under.
const (
	authCodeKeyspace     = "authorization-code"
	refreshTokenKeyspace = "refresh-token"
	accessTokenKeyspace  = "access-token"
)

// IDs use lower case letters and digits only, so they never contain the
// separator used in tokens.
var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567")

// NewID returns a random string which can be used as an ID for objects.
func NewID() string {
	buff := make([]byte, 16) // 128 bit random ID.
	if _, err := io.ReadFull(rand.Reader, buff); err != nil {
		panic(err)
	}
	// Avoid the identifier to begin with number and trim padding
	return string(buff[0]%26+'a') + strings.TrimRight(encoding.EncodeToString(buff[1:]), "=")
}
