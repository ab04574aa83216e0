package signer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pardot/oidc-compliance/storage"
	"github.com/sirupsen/logrus"
	"gopkg.in/square/go-jose.v2"
)

const (
	keysKeyspace = "signer-keys"
	// we only have one set, so just use a fixed key
	keysKey = "key"
)

// VerificationKey is a rotated signing key which can still be used to verify
// signatures.
type VerificationKey struct {
	PublicKey *jose.JSONWebKey
	Expiry    time.Time
}

// Keys hold encryption and signing keys.
type Keys struct {
	// Key for creating and verifying signatures. These may be nil.
	SigningKey    *jose.JSONWebKey
	SigningKeyPub *jose.JSONWebKey

	// Old signing keys which have been rotated but can still be used to validate
	// existing signatures.
	VerificationKeys []VerificationKey

	// The next time the signing key will rotate.
	NextRotation time.Time
}

// RotationStrategy describes a strategy for generating cryptographic keys, how
// often to rotate them, and how long they can validate signatures after rotation.
type RotationStrategy struct {
	// Time between rotations.
	rotationFrequency time.Duration

	// After being rotated how long should the key be kept around for validating
	// signatues?
	idTokenValidFor time.Duration

	key func() (*rsa.PrivateKey, error)
}

// DefaultRotationStrategy returns a strategy which rotates keys every provided period,
// holding onto the public parts for some specified amount of time.
func DefaultRotationStrategy(rotationFrequency, idTokenValidFor time.Duration) RotationStrategy {
	return RotationStrategy{
		rotationFrequency: rotationFrequency,
		idTokenValidFor:   idTokenValidFor,
		key: func() (*rsa.PrivateKey, error) {
			return rsa.GenerateKey(rand.Reader, 2048)
		},
	}
}

// RotatingSigner is a OIDC signer that automatically rotates signing keys.
// Keys are kept in storage, so instances sharing a storage backend share keys,
// and keys survive a restart.
type RotatingSigner struct {
	storage storage.Storage

	strategy RotationStrategy
	now      func() time.Time

	logger logrus.FieldLogger
}

func NewRotating(l logrus.FieldLogger, storage storage.Storage, strategy RotationStrategy) *RotatingSigner {
	return &RotatingSigner{
		storage:  storage,
		logger:   l,
		strategy: strategy,
		now:      time.Now,
	}
}

// Start begins key rotation in a new goroutine, closing once the context is canceled.
//
// The method blocks until after the first attempt to rotate keys has completed. That way
// healthy storages will return from this call with valid keys.
func (r *RotatingSigner) Start(ctx context.Context) error {
	// Try to rotate immediately so properly configured storages will have keys.
	if err := r.rotate(ctx); err != nil {
		return err
	}

	r.logger.Info("starting key rotation loop")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second * 30):
				if err := r.rotate(ctx); err != nil {
					r.logger.WithError(err).Error("failed to rotate keys")
				}
			}
		}
	}()

	return nil
}

func (r *RotatingSigner) getKeys(ctx context.Context) (Keys, int64, error) {
	st := &structpb.Struct{}
	ver, err := r.storage.Get(ctx, keysKeyspace, keysKey, st)
	if err != nil {
		return Keys{}, 0, err
	}
	keys, err := keysFromStruct(st)
	return keys, ver, err
}

func (r *RotatingSigner) rotate(ctx context.Context) error {
	keys, kver, err := r.getKeys(ctx)
	if err != nil && !storage.IsNotFoundErr(err) {
		return fmt.Errorf("get keys: %w", err)
	}
	if r.now().Before(keys.NextRotation) {
		return nil
	}
	r.logger.Info("keys expired, rotating")

	// Generate the key outside of a storage transaction.
	key, err := r.strategy.key()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	keyID, err := newKeyID()
	if err != nil {
		return err
	}
	priv := &jose.JSONWebKey{
		Key:       key,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
	pub := &jose.JSONWebKey{
		Key:       key.Public(),
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}

	tNow := r.now()

	// Remove any verification keys that have expired.
	i := 0
	for _, vk := range keys.VerificationKeys {
		if !tNow.After(vk.Expiry) {
			keys.VerificationKeys[i] = vk
			i++
		}
	}
	keys.VerificationKeys = keys.VerificationKeys[:i]

	if keys.SigningKeyPub != nil {
		// Move current signing key to a verification only key, throwing
		// away the private part. It is kept for as long as an ID token it
		// signed can be valid.
		keys.VerificationKeys = append(keys.VerificationKeys, VerificationKey{
			PublicKey: keys.SigningKeyPub,
			Expiry:    tNow.Add(r.strategy.idTokenValidFor),
		})
	}

	keys.SigningKey = priv
	keys.SigningKeyPub = pub
	keys.NextRotation = tNow.Add(r.strategy.rotationFrequency)

	st, err := keysToStruct(keys)
	if err != nil {
		return err
	}
	if _, err := r.storage.Put(ctx, keysKeyspace, keysKey, kver, st); err != nil {
		if storage.IsConflictErr(err) {
			// Assume someone else updated, so roll with it
			return nil
		}
		return err
	}

	r.logger.WithField("next_rotation", keys.NextRotation).Info("keys rotated")
	return nil
}

// PublicKeys returns a keyset of all valid signer public keys considered
// valid for signed tokens
func (r *RotatingSigner) PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	keys, err := r.pubKeys(ctx)
	if err != nil {
		return nil, err
	}
	return &jose.JSONWebKeySet{
		Keys: keys,
	}, nil
}

// SignerAlg returns the algorithm the signer uses
func (r *RotatingSigner) SignerAlg(ctx context.Context) (jose.SignatureAlgorithm, error) {
	keys, _, err := r.getKeys(ctx)
	if err != nil {
		return "", err
	}
	if keys.SigningKey == nil {
		return "", fmt.Errorf("no signing key")
	}
	return jose.SignatureAlgorithm(keys.SigningKey.Algorithm), nil
}

// Sign the provided data
func (r *RotatingSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	keys, _, err := r.getKeys(ctx)
	if err != nil {
		return nil, err
	}
	if keys.SigningKey == nil {
		return nil, fmt.Errorf("no signing key")
	}
	sk := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(keys.SigningKey.Algorithm),
		Key:       keys.SigningKey,
	}
	return sign(ctx, sk, data)
}

// VerifySignature verifies the signature given token against the current signers
func (r *RotatingSigner) VerifySignature(ctx context.Context, jwt string) (payload []byte, err error) {
	keys, err := r.pubKeys(ctx)
	if err != nil {
		return nil, err
	}
	return verifySignature(ctx, keys, jwt)
}

// pubKeys returns all currently valid public keys for this instance.
func (r *RotatingSigner) pubKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	keys, _, err := r.getKeys(ctx)
	if err != nil {
		return nil, err
	}
	vks := []jose.JSONWebKey{}
	if keys.SigningKeyPub != nil {
		vks = append(vks, *keys.SigningKeyPub)
	}
	for _, k := range keys.VerificationKeys {
		vks = append(vks, *k.PublicKey)
	}
	return vks, nil
}

func keysToStruct(k Keys) (*structpb.Struct, error) {
	jwkStr := func(key *jose.JSONWebKey) (*structpb.Value, error) {
		b, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: string(b)}}, nil
	}

	sk, err := jwkStr(k.SigningKey)
	if err != nil {
		return nil, err
	}
	spk, err := jwkStr(k.SigningKeyPub)
	if err != nil {
		return nil, err
	}

	vks := &structpb.ListValue{}
	for _, vk := range k.VerificationKeys {
		pk, err := jwkStr(vk.PublicKey)
		if err != nil {
			return nil, err
		}
		vks.Values = append(vks.Values, &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{
			Fields: map[string]*structpb.Value{
				"public_key": pk,
				"expiry":     timeValue(vk.Expiry),
			},
		}}})
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"signing_key":       sk,
		"signing_key_pub":   spk,
		"verification_keys": {Kind: &structpb.Value_ListValue{ListValue: vks}},
		"next_rotation":     timeValue(k.NextRotation),
	}}, nil
}

func keysFromStruct(st *structpb.Struct) (Keys, error) {
	parseJWK := func(v *structpb.Value) (*jose.JSONWebKey, error) {
		k := &jose.JSONWebKey{}
		if err := json.Unmarshal([]byte(v.GetStringValue()), k); err != nil {
			return nil, fmt.Errorf("parsing stored key: %w", err)
		}
		return k, nil
	}

	f := st.GetFields()
	var (
		k   Keys
		err error
	)
	if k.SigningKey, err = parseJWK(f["signing_key"]); err != nil {
		return Keys{}, err
	}
	if k.SigningKeyPub, err = parseJWK(f["signing_key_pub"]); err != nil {
		return Keys{}, err
	}
	if k.NextRotation, err = parseTime(f["next_rotation"]); err != nil {
		return Keys{}, err
	}

	for _, v := range f["verification_keys"].GetListValue().GetValues() {
		vf := v.GetStructValue().GetFields()
		pk, err := parseJWK(vf["public_key"])
		if err != nil {
			return Keys{}, err
		}
		exp, err := parseTime(vf["expiry"])
		if err != nil {
			return Keys{}, err
		}
		k.VerificationKeys = append(k.VerificationKeys, VerificationKey{
			PublicKey: pk,
			Expiry:    exp,
		})
	}

	return k, nil
}

func timeValue(t time.Time) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: t.Format(time.RFC3339Nano)}}
}

func parseTime(v *structpb.Value) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v.GetStringValue())
}
