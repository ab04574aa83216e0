package signer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io/ioutil"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/cryptosigner"
)

// CryptoSigner signs with a crypto.Signer, for keys loaded from disk or held
// in an external key store.
type CryptoSigner struct {
	signer  jose.Signer
	pubKeys *jose.JSONWebKeySet
	keyID   string

	alg jose.SignatureAlgorithm
}

// NewFromCrypto returns a new Signer, that wraps a crypto.Signer for the actual
// signing/public key options. keyID is used to set the `kid`
// (https://tools.ietf.org/html/rfc7517#section-4.5) field for the returned JWK,
// as there's no good way to infer it from the given signer.
func NewFromCrypto(signer crypto.Signer, keyID string) (*CryptoSigner, error) {
	c := &CryptoSigner{
		keyID: keyID,
	}

	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		c.alg = jose.ES256
	case *rsa.PublicKey:
		c.alg = jose.RS256
	default:
		return nil, fmt.Errorf("unsupported key type: %T", signer.Public())
	}

	s, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: c.alg,
			Key: &jose.JSONWebKey{
				Algorithm: string(c.alg),
				Key:       cryptosigner.Opaque(signer),
				KeyID:     keyID,
				Use:       "sig",
			},
		},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	c.signer = s

	c.pubKeys = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       signer.Public(),
				KeyID:     keyID,
				Algorithm: string(c.alg),
				Use:       "sig",
			},
		},
	}

	return c, nil
}

// LoadPEMKey reads a PKCS#1, PKCS#8 or SEC 1 encoded private key from path.
func LoadPEMKey(path string) (crypto.Signer, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM data found in %s", path)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		s, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%T in %s can not sign", k, path)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q in %s", block.Type, path)
	}
}

// PublicKeys returns the public key set this signer is valid for
func (c *CryptoSigner) PublicKeys(_ context.Context) (*jose.JSONWebKeySet, error) {
	return c.pubKeys, nil
}

// SignerAlg returns the algorithm this signer uses
func (c *CryptoSigner) SignerAlg(_ context.Context) (jose.SignatureAlgorithm, error) {
	return c.alg, nil
}

// Sign the provided data
func (c *CryptoSigner) Sign(_ context.Context, data []byte) (signed []byte, err error) {
	jws, err := c.signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	ser, err := jws.CompactSerialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	return []byte(ser), nil
}

// VerifySignature verifies the signature given token against the current signers
func (c *CryptoSigner) VerifySignature(ctx context.Context, jwt string) (payload []byte, err error) {
	return verifySignature(ctx, c.pubKeys.Keys, jwt)
}
