// Package signer signs and verifies the JWTs issued by the provider.
package signer

import (
	"context"
	"errors"

	"gopkg.in/square/go-jose.v2"
)

// Signer is used to sign identity tokens, and publish the keys they can be
// verified with.
type Signer interface {
	// PublicKeys returns a keyset of all valid signer public keys considered
	// valid for signed tokens
	PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error)
	// SignerAlg returns the algorithm the signer uses
	SignerAlg(ctx context.Context) (jose.SignatureAlgorithm, error)
	// Sign the provided data
	Sign(ctx context.Context, data []byte) (signed []byte, err error)
	// VerifySignature verifies the signature given token against the current signers
	VerifySignature(ctx context.Context, jwt string) (payload []byte, err error)
}

var (
	_ Signer = (*StaticSigner)(nil)
	_ Signer = (*CryptoSigner)(nil)
	_ Signer = (*RotatingSigner)(nil)
)

func sign(_ context.Context, signingKey jose.SigningKey, data []byte) (signed []byte, err error) {
	signer, err := jose.NewSigner(signingKey, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, err
	}

	jws, err := signer.Sign(data)
	if err != nil {
		return nil, err
	}

	ser, err := jws.CompactSerialize()
	return []byte(ser), err
}

func verifySignature(_ context.Context, verificationKeys []jose.JSONWebKey, jwt string) (payload []byte, err error) {
	jws, err := jose.ParseSigned(jwt)
	if err != nil {
		return nil, err
	}

	keyID := ""
	for _, sig := range jws.Signatures {
		keyID = sig.Header.KeyID
		break
	}

	for _, key := range verificationKeys {
		if keyID == "" || key.KeyID == keyID {
			if payload, err := jws.Verify(key); err == nil {
				return payload, nil
			}
		}
	}

	return nil, errors.New("failed to verify id token signature")
}
