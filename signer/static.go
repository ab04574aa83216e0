package signer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"io"

	"gopkg.in/square/go-jose.v2"
)

// StaticSigner uses a fixed set of keys to manage signing operations
type StaticSigner struct {
	signingKey       jose.SigningKey
	verificationKeys []jose.JSONWebKey
}

// NewStatic returns a StaticSigner with the provided keys
func NewStatic(signingKey jose.SigningKey, verificationKeys []jose.JSONWebKey) *StaticSigner {
	return &StaticSigner{
		signingKey:       signingKey,
		verificationKeys: verificationKeys,
	}
}

// NewEphemeral returns a StaticSigner for a newly generated RS256 key. The key
// only lives as long as the process, tokens signed before a restart can no
// longer be verified.
func NewEphemeral(bits int) (*StaticSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	kid, err := newKeyID()
	if err != nil {
		return nil, err
	}

	return NewStatic(
		jose.SigningKey{Algorithm: jose.RS256, Key: &jose.JSONWebKey{
			Key:       key,
			KeyID:     kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
		[]jose.JSONWebKey{{
			Key:       key.Public(),
			KeyID:     kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	), nil
}

func newKeyID() (string, error) {
	b := make([]byte, 20)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generating key id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// PublicKeys returns a keyset of all valid signer public keys considered
// valid for signed tokens
func (s *StaticSigner) PublicKeys(_ context.Context) (*jose.JSONWebKeySet, error) {
	return &jose.JSONWebKeySet{
		Keys: s.verificationKeys,
	}, nil
}

// SignerAlg returns the algorithm the signer uses
func (s *StaticSigner) SignerAlg(_ context.Context) (jose.SignatureAlgorithm, error) {
	return s.signingKey.Algorithm, nil
}

// Sign the provided data
func (s *StaticSigner) Sign(ctx context.Context, data []byte) (signed []byte, err error) {
	return sign(ctx, s.signingKey, data)
}

// VerifySignature verifies the signature given token against the current signers
func (s *StaticSigner) VerifySignature(ctx context.Context, jwt string) (payload []byte, err error) {
	return verifySignature(ctx, s.verificationKeys, jwt)
}
