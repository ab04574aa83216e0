package oidcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pardot/oidc-compliance/core"
	"github.com/pardot/oidc-compliance/idtoken"
)

// Ticket properties that follow a grant through its exchanges.
const (
	propClientID    = "client_id"
	propRedirectURI = "redirect_uri"
	propNonce       = "nonce"
)

// issuedTokens are the credentials returned for a ticket.
type issuedTokens struct {
	AccessToken  string
	ExpiresIn    int64
	IDToken      string
	RefreshToken string
	Scopes       core.Scopes
}

// issueAccessToken stores a reference access token for the ticket. Only
// claims routed to the access token are kept with it.
func (s *Server) issueAccessToken(ctx context.Context, t *core.Ticket, origin string) (string, error) {
	at := t.Clone()
	at.Identity = t.Identity.Filter(core.DestinationAccessToken)

	return s.grants.issue(ctx, accessTokenKeyspace, &grant{
		ClientID: t.Property(propClientID),
		Ticket:   at,
		Origin:   origin,
		Expires:  s.now().Add(s.accessTokensValidFor),
	})
}

// issueRefreshToken stores a refresh token holding the whole ticket, so the
// next exchange can route the claims again.
func (s *Server) issueRefreshToken(ctx context.Context, t *core.Ticket, origin string) (string, error) {
	return s.grants.issue(ctx, refreshTokenKeyspace, &grant{
		ClientID: t.Property(propClientID),
		Ticket:   t,
		Origin:   origin,
		Expires:  s.now().Add(s.refreshTokensValidFor),
	})
}

// issueCode stores an authorization code for the ticket.
func (s *Server) issueCode(ctx context.Context, t *core.Ticket) (string, error) {
	return s.grants.issue(ctx, authCodeKeyspace, &grant{
		ClientID: t.Property(propClientID),
		Ticket:   t,
		Expires:  s.now().Add(s.codesValidFor),
	})
}

// idTokenOpts control the parts of the ID token that depend on where it is
// issued from.
type idTokenOpts struct {
	// AccessToken is set when the ID token is returned from the
	// authorization endpoint alongside an access token, and is bound to it
	// with at_hash.
	AccessToken string
	// OmitNonce is set for refreshes.
	OmitNonce bool
}

// signIDToken builds and signs the ID token for the ticket. The claims routed
// to the ID token are added to the standard set.
func (s *Server) signIDToken(ctx context.Context, t *core.Ticket, opts idTokenOpts) (string, error) {
	now := s.now()

	claims := idtoken.Claims{
		Issuer:   s.issuer,
		Subject:  t.Identity.Subject(),
		Audience: idtoken.Audience{t.Property(propClientID)},
		Expiry:   idtoken.NewUnixTime(now.Add(s.idTokensValidFor)),
		IssuedAt: idtoken.NewUnixTime(now),
		Extra:    map[string]interface{}{},
	}
	if !opts.OmitNonce {
		claims.Nonce = t.Property(propNonce)
	}

	for _, c := range t.Identity.Filter(core.DestinationIdentityToken).Claims {
		switch c.Type {
		case core.ClaimSubject:
			// always set from the identity
		case core.ClaimACR:
			claims.ACR = c.Value
		case core.ClaimAuthTime:
			at, err := strconv.ParseInt(c.Value, 10, 64)
			if err != nil {
				return "", &core.MalformedClaimError{Type: c.Type, Value: c.Value, Cause: err}
			}
			claims.AuthTime = idtoken.UnixTime(at)
		default:
			v, err := claimValue(c)
			if err != nil {
				return "", err
			}
			claims.Extra[c.Type] = v
		}
	}

	if opts.AccessToken != "" {
		alg, err := s.signer.SignerAlg(ctx)
		if err != nil {
			return "", fmt.Errorf("getting signing algorithm: %w", err)
		}
		if claims.AccessTokenHash, err = idtoken.AccessTokenHash(string(alg), opts.AccessToken); err != nil {
			return "", err
		}
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshaling id token claims: %w", err)
	}
	signed, err := s.signer.Sign(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("signing id token: %w", err)
	}
	return string(signed), nil
}

// claimValue returns the JSON value for a claim, according to its value type.
func claimValue(c core.Claim) (interface{}, error) {
	switch c.ValueType {
	case core.ValueTypeInteger:
		n, err := strconv.ParseInt(c.Value, 10, 64)
		if err != nil {
			return nil, &core.MalformedClaimError{Type: c.Type, Value: c.Value, Cause: err}
		}
		return n, nil
	case core.ValueTypeJSON:
		var v interface{}
		if err := json.Unmarshal([]byte(c.Value), &v); err != nil {
			return nil, &core.MalformedClaimError{Type: c.Type, Value: c.Value, Cause: err}
		}
		return v, nil
	default:
		return c.Value, nil
	}
}

// issueFromAuthorization returns the credentials for a new grant, as
// requested by the response type.
func (s *Server) issueFromAuthorization(ctx context.Context, t *core.Ticket, rt responseType) (*authResponse, error) {
	resp := &authResponse{Scopes: t.Scopes}

	switch rt {
	case responseTypeCode:
		code, err := s.issueCode(ctx, t)
		if err != nil {
			return nil, err
		}
		resp.Code = code

	case responseTypeIDTokenToken:
		at, err := s.issueAccessToken(ctx, t, "")
		if err != nil {
			return nil, err
		}
		resp.AccessToken = at
		resp.ExpiresIn = int64(s.accessTokensValidFor.Seconds())
		if resp.IDToken, err = s.signIDToken(ctx, t, idTokenOpts{AccessToken: at}); err != nil {
			return nil, err
		}

	case responseTypeIDToken:
		var err error
		if resp.IDToken, err = s.signIDToken(ctx, t, idTokenOpts{}); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("can't issue for response type %q", rt)
	}

	return resp, nil
}

// issueFromExchange returns the credentials for a ticket assembled at the
// token endpoint. A refresh token is only issued if offline_access was
// granted.
func (s *Server) issueFromExchange(ctx context.Context, t *core.Ticket, grant core.GrantKind, origin string) (*issuedTokens, error) {
	var (
		it  = &issuedTokens{Scopes: t.Scopes, ExpiresIn: int64(s.accessTokensValidFor.Seconds())}
		err error
	)

	if it.AccessToken, err = s.issueAccessToken(ctx, t, origin); err != nil {
		return nil, err
	}

	if t.Scopes.Has(core.ScopeOpenID) {
		if it.IDToken, err = s.signIDToken(ctx, t, idTokenOpts{OmitNonce: grant == core.GrantRefreshExchange}); err != nil {
			return nil, err
		}
	}

	if t.Scopes.Has(core.ScopeOfflineAccess) {
		if it.RefreshToken, err = s.issueRefreshToken(ctx, t, origin); err != nil {
			return nil, err
		}
	}

	return it, nil
}
