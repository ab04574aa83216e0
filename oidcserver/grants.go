package oidcserver

import (
	"context"
	"fmt"
	"time"

	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pardot/oidc-compliance/core"
	"github.com/pardot/oidc-compliance/storage"
	"github.com/sirupsen/logrus"
)

// grant is the server side state for an issued code or token.
type grant struct {
	// Hash is the bcrypt hash of the token's secret.
	Hash     []byte
	ClientID string
	Ticket   *core.Ticket
	// Origin is the ID of the authorization code this grant was derived
	// from, so everything issued from a code can be revoked if the code is
	// replayed. Empty for grants from the implicit flow.
	Origin string
	// Redeemed is set on authorization codes once they have been exchanged.
	Redeemed bool
	Expires  time.Time
}

// grantStore persists grants. Lookups treat anything missing, expired or not
// matching as absent rather than an error, errors are only returned for
// storage failures.
type grantStore struct {
	storage storage.Storage
	logger  logrus.FieldLogger
	now     func() time.Time
}

// issue stores g, returning the token to hand to the client.
func (gs *grantStore) issue(ctx context.Context, keyspace string, g *grant) (string, error) {
	tok, hash, err := newToken()
	if err != nil {
		return "", err
	}
	g.Hash = hash
	if keyspace == authCodeKeyspace {
		g.Origin = tok.ID
	}

	pb, err := grantToPB(g)
	if err != nil {
		return "", fmt.Errorf("serializing grant: %w", err)
	}
	if _, err := gs.storage.PutWithExpiry(ctx, keyspace, tok.ID, 0, pb, g.Expires); err != nil {
		return "", fmt.Errorf("storing %s: %w", keyspace, err)
	}

	return tok.String(), nil
}

// lookup finds the grant for a token the client presented. A nil grant is
// returned if it does not exist.
func (gs *grantStore) lookup(ctx context.Context, keyspace, token string) (g *grant, id string, version int64, err error) {
	tok, err := parseToken(token)
	if err != nil {
		return nil, "", 0, nil
	}

	st := &structpb.Struct{}
	version, err = gs.storage.Get(ctx, keyspace, tok.ID, st)
	if err != nil {
		if storage.IsNotFoundErr(err) {
			return nil, "", 0, nil
		}
		return nil, "", 0, fmt.Errorf("fetching %s: %w", keyspace, err)
	}

	g, err = grantFromPB(st)
	if err != nil {
		return nil, "", 0, fmt.Errorf("deserializing %s %s: %w", keyspace, tok.ID, err)
	}

	ok, err := tok.matches(g.Hash)
	if err != nil {
		return nil, "", 0, err
	}
	if !ok || !gs.now().Before(g.Expires) {
		return nil, "", 0, nil
	}

	return g, tok.ID, version, nil
}

// redeemCode exchanges an authorization code. A code can only be redeemed
// once, a second attempt revokes everything that was issued from it. If the
// authorization request named a redirect_uri, redirectURI must match it. A
// mismatch leaves the code unredeemed.
//
// https://tools.ietf.org/html/rfc6819#section-4.4.1.1
// https://tools.ietf.org/html/rfc6749#section-4.1.3
func (gs *grantStore) redeemCode(ctx context.Context, code, clientID, redirectURI string) (*grant, error) {
	g, id, version, err := gs.lookup(ctx, authCodeKeyspace, code)
	if err != nil || g == nil {
		return nil, err
	}
	if g.ClientID != clientID {
		return nil, nil
	}

	if g.Redeemed {
		gs.logger.WithField("code", id).Warn("authorization code replayed, revoking issued tokens")
		if err := gs.revokeOrigin(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if want := g.Ticket.Property(propRedirectURI); want != "" && want != redirectURI {
		gs.logger.WithField("code", id).Info("redirect_uri does not match the authorization request")
		return nil, nil
	}

	// Keep the code around marked as used, rather than deleting it, so a
	// replay can be detected.
	g.Redeemed = true
	pb, err := grantToPB(g)
	if err != nil {
		return nil, fmt.Errorf("serializing grant: %w", err)
	}
	if _, err := gs.storage.PutWithExpiry(ctx, authCodeKeyspace, id, version, pb, g.Expires); err != nil {
		if storage.IsConflictErr(err) {
			// lost a race with another redemption
			return nil, nil
		}
		return nil, fmt.Errorf("marking code redeemed: %w", err)
	}

	return g, nil
}

// redeemRefresh exchanges a refresh token. Refresh tokens are single use, the
// caller issues a new one.
func (gs *grantStore) redeemRefresh(ctx context.Context, token, clientID string) (*grant, error) {
	g, id, version, err := gs.lookup(ctx, refreshTokenKeyspace, token)
	if err != nil || g == nil {
		return nil, err
	}
	if g.ClientID != clientID {
		return nil, nil
	}

	if err := gs.storage.Delete(ctx, refreshTokenKeyspace, id, version); err != nil {
		if storage.IsConflictErr(err) || storage.IsNotFoundErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("deleting refresh token: %w", err)
	}

	return g, nil
}

// accessToken returns the grant for a reference access token.
func (gs *grantStore) accessToken(ctx context.Context, token string) (*grant, error) {
	g, _, _, err := gs.lookup(ctx, accessTokenKeyspace, token)
	return g, err
}

// revokeOrigin deletes the authorization code with the given ID, and every
// access and refresh token derived from it.
func (gs *grantStore) revokeOrigin(ctx context.Context, origin string) error {
	var revoked int
	for _, ks := range []string{accessTokenKeyspace, refreshTokenKeyspace, authCodeKeyspace} {
		keys, err := gs.storage.List(ctx, ks)
		if err != nil {
			return fmt.Errorf("listing %s: %w", ks, err)
		}
		for _, k := range keys {
			st := &structpb.Struct{}
			v, err := gs.storage.Get(ctx, ks, k, st)
			if err != nil {
				if storage.IsNotFoundErr(err) {
					continue
				}
				return fmt.Errorf("fetching %s %s: %w", ks, k, err)
			}
			g, err := grantFromPB(st)
			if err != nil {
				return fmt.Errorf("deserializing %s %s: %w", ks, k, err)
			}
			if g.Origin != origin {
				continue
			}
			if err := gs.storage.Delete(ctx, ks, k, v); err != nil && !storage.IsNotFoundErr(err) {
				return fmt.Errorf("deleting %s %s: %w", ks, k, err)
			}
			revoked++
		}
	}
	gs.logger.WithField("code", origin).Infof("revoked %d grants", revoked)
	return nil
}
