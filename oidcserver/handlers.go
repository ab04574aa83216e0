package oidcserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pardot/oidc-compliance/core"
	"github.com/sirupsen/logrus"
)

// handleAuthorize serves the authorization endpoint. The current session is
// checked for freshness, and the user is either sent to sign in, sent back to
// the client with an error, or issued the requested credentials.
//
// https://openid.net/specs/openid-connect-core-1_0.html#AuthorizationEndpoint
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ar, err := parseAuthRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	log := s.logger.WithField("client_id", ar.ClientID)

	client, err := s.clients.GetClient(ar.ClientID)
	if err != nil {
		if isNoSuchClientErr(err) {
			log.Info("authorization request for unknown client")
			s.renderError(w, http.StatusBadRequest, "Unknown client.")
			return
		}
		log.WithError(err).Error("failed to get client")
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	// redirect_uri is only checked at the token endpoint if it was sent here.
	explicitRedirect := ar.RedirectURI != ""
	if !explicitRedirect {
		uri, ok := client.defaultRedirectURI()
		if !ok {
			s.renderError(w, http.StatusBadRequest, "redirect_uri must be specified.")
			return
		}
		ar.RedirectURI = uri
	}
	if !validateRedirectURI(client, ar.RedirectURI) {
		log.WithField("redirect_uri", ar.RedirectURI).Info("unregistered redirect URI")
		s.renderError(w, http.StatusBadRequest, "Unregistered redirect_uri.")
		return
	}

	if aerr := ar.validate(); aerr != nil {
		s.writeError(w, r, aerr)
		return
	}

	var ident *core.Identity
	us := s.sessions.get(r)
	if us != nil {
		var ok bool
		if ident, ok = s.users.LookupUser(us.Username); !ok {
			log.WithField("username", us.Username).Warn("session for unknown user")
			us = nil
		}
	}

	freq := core.FreshnessRequest{
		SessionPresent: us != nil,
		MaxAge:         ar.MaxAge,
		Prompts:        ar.Prompts,
		Now:            s.now(),
		RequestURL:     &url.URL{Path: r.URL.Path, RawQuery: ar.Params.Encode()},
	}
	if us != nil {
		freq.SessionIssuedAt = &us.IssuedAt
		freq.ChallengedAt = s.sessions.challengedAt(r)
	}

	d := core.Evaluate(freq)
	log.WithField("decision", d.Kind).Debug("evaluated session")

	// Remember when the user was sent to sign in, and forget it once used.
	var challengedAt time.Time
	switch {
	case d.Kind == core.DecisionChallengeInteractive:
		challengedAt = s.now()
		fallthrough
	case freq.ChallengedAt != nil:
		if err := s.sessions.setChallengedAt(w, r, challengedAt); err != nil {
			log.WithError(err).Error("failed to save session")
			s.renderError(w, http.StatusInternalServerError, "Internal server error.")
			return
		}
	}

	switch d.Kind {
	case core.DecisionChallengeSilent:
		s.writeError(w, r, &authError{
			State:       ar.State,
			Code:        authErrorCode(d.ErrorCode),
			Description: "the user must sign in",
			RedirectURI: ar.RedirectURI,
			Mode:        ar.Mode,
		})
		return
	case core.DecisionChallengeInteractive:
		q := url.Values{"returnUrl": []string{d.RedirectTarget}}
		http.Redirect(w, r, s.absPath(s.paths.Signin)+"?"+q.Encode(), http.StatusFound)
		return
	}

	extra := []core.Claim{{
		Type:      core.ClaimAuthTime,
		Value:     strconv.FormatInt(us.AuthTime.Unix(), 10),
		ValueType: core.ValueTypeInteger,
	}}
	extra = append(extra, core.ACRClaims(core.GrantAuthorization, ar.ACRValues)...)

	t, err := core.Assemble(core.AssembleRequest{
		Grant:           core.GrantAuthorization,
		Identity:        ident,
		RequestedScopes: ar.Scopes,
		SupportedScopes: client.grantableScopes(s.scopes),
		ExtraClaims:     extra,
	})
	if err != nil {
		log.WithError(err).Error("failed to assemble ticket")
		s.writeError(w, r, &authError{State: ar.State, Code: authErrorCodeServerError, RedirectURI: ar.RedirectURI, Mode: ar.Mode, Cause: err})
		return
	}
	t.Properties[propClientID] = client.ID
	if explicitRedirect {
		t.Properties[propRedirectURI] = ar.RedirectURI
	}
	if ar.Nonce != "" {
		t.Properties[propNonce] = ar.Nonce
	}

	resp, err := s.issueFromAuthorization(r.Context(), t, ar.ResponseType)
	if err != nil {
		log.WithError(err).Error("failed to issue credentials")
		s.writeError(w, r, &authError{State: ar.State, Code: authErrorCodeServerError, RedirectURI: ar.RedirectURI, Mode: ar.Mode, Cause: err})
		return
	}

	log.WithFields(logrus.Fields{
		"sub":           t.Identity.Subject(),
		"response_type": ar.ResponseType,
		"scope":         t.Scopes.String(),
	}).Info("authorization granted")

	if err := sendAuthResponse(w, r, ar, resp); err != nil {
		s.writeError(w, r, err)
	}
}

// authenticateClient looks up the client a token or introspection request was
// made by, and checks its secret.
func (s *Server) authenticateClient(clientID, clientSecret string) (*Client, error) {
	client, err := s.clients.GetClient(clientID)
	if err != nil {
		if isNoSuchClientErr(err) {
			return nil, &tokenError{Code: tokenErrorCodeInvalidClient, Description: "Invalid client credentials.", WWWAuthenticate: "Basic"}
		}
		return nil, internalError("failed to get client", err)
	}
	if !client.authenticate(clientSecret) {
		return nil, &tokenError{Code: tokenErrorCodeInvalidClient, Description: "Invalid client credentials.", WWWAuthenticate: "Basic"}
	}
	return client, nil
}

// handleToken serves the token endpoint, exchanging authorization codes and
// refresh tokens.
//
// https://openid.net/specs/openid-connect-core-1_0.html#TokenEndpoint
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTokenRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	client, err := s.authenticateClient(tr.ClientID, tr.ClientSecret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		prior *grant
		kind  core.GrantKind
	)
	switch tr.GrantType {
	case grantTypeAuthorizationCode:
		kind = core.GrantCodeExchange
		prior, err = s.grants.redeemCode(r.Context(), tr.Code, client.ID, tr.RedirectURI)
	case grantTypeRefreshToken:
		kind = core.GrantRefreshExchange
		prior, err = s.grants.redeemRefresh(r.Context(), tr.RefreshToken, client.ID)
	}
	if err != nil {
		s.writeError(w, r, internalError("failed to redeem grant", err))
		return
	}

	areq := core.AssembleRequest{Grant: kind}
	var origin string
	if prior != nil {
		areq.Prior = prior.Ticket
		areq.Identity = prior.Ticket.Identity
		origin = prior.Origin
	}

	t, err := core.Assemble(areq)
	if errors.Is(err, core.ErrMissingGrantContext) {
		s.writeError(w, r, &tokenError{Code: tokenErrorCodeInvalidGrant, Description: "The grant is invalid, expired or already used.", Cause: err})
		return
	} else if err != nil {
		s.writeError(w, r, internalError("failed to assemble ticket", err))
		return
	}

	issued, err := s.issueFromExchange(r.Context(), t, kind, origin)
	if err != nil {
		s.writeError(w, r, internalError("failed to issue tokens", err))
		return
	}

	s.logger.WithFields(logrus.Fields{
		"client_id":  client.ID,
		"grant_type": tr.GrantType,
		"sub":        t.Identity.Subject(),
	}).Info("tokens issued")

	if err := writeTokenResponse(w, newTokenResponse(issued)); err != nil {
		s.logger.WithError(err).Error("failed to write token response")
	}
}

// bearerToken returns the access token sent with the request, from the
// Authorization header or the access_token parameter.
//
// https://tools.ietf.org/html/rfc6750#section-2
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if len(auth) >= len(prefix) && strings.EqualFold(prefix, auth[:len(prefix)]) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return r.FormValue("access_token")
}

// handleUserinfo returns the claims for the access token's subject, filtered
// by the scopes it was granted.
//
// https://openid.net/specs/openid-connect-core-1_0.html#UserInfo
func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	tok := bearerToken(r)
	if tok == "" {
		s.writeError(w, r, &bearerError{Code: bearerErrorCodeInvalidRequest, Description: "no access token was sent"})
		return
	}

	g, err := s.grants.accessToken(r.Context(), tok)
	if err != nil {
		s.writeError(w, r, internalError("failed to look up access token", err))
		return
	}
	if g == nil {
		s.writeError(w, r, &bearerError{Code: bearerErrorCodeInvalidToken, Description: "the access token is invalid or expired"})
		return
	}

	ui, err := core.Project(g.Ticket.Identity, g.Ticket.Scopes)
	if err != nil {
		s.writeError(w, r, internalError("failed to build userinfo", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(ui); err != nil {
		s.logger.WithError(err).Error("failed to write userinfo response")
	}
}

// introspection is the RFC 7662 response.
//
// https://tools.ietf.org/html/rfc7662#section-2.2
type introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

// handleIntrospect reports on reference access tokens. Clients can only
// introspect tokens issued to them, any other token is reported inactive.
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "failed to parse request", Cause: err})
		return
	}
	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	client, err := s.authenticateClient(clientID, clientSecret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if client.Public {
		s.writeError(w, r, &tokenError{Code: tokenErrorCodeUnauthorizedClient, Description: "public clients can not introspect tokens"})
		return
	}

	tok := r.PostForm.Get("token")
	if tok == "" {
		s.writeError(w, r, &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "token must be specified"})
		return
	}

	resp := introspection{}
	g, err := s.grants.accessToken(r.Context(), tok)
	if err != nil {
		s.writeError(w, r, internalError("failed to look up access token", err))
		return
	}
	if g != nil && g.ClientID == client.ID {
		resp = introspection{
			Active:    true,
			Scope:     g.Ticket.Scopes.String(),
			ClientID:  g.ClientID,
			Username:  g.Ticket.Identity.Value(core.ClaimName),
			TokenType: tokenTypeBearer,
			Exp:       g.Expires.Unix(),
			Sub:       g.Ticket.Identity.Subject(),
			Aud:       g.ClientID,
			Iss:       s.issuer,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Error("failed to write introspection response")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// writeError sends err to the user, logging anything that isn't a protocol
// error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case *authError, *tokenError, *bearerError:
		s.logger.WithError(err).Debug("request rejected")
	case *httpError:
		if e.Code >= http.StatusInternalServerError {
			s.logger.WithError(err).Error("request failed")
		} else {
			s.logger.WithError(err).Debug("request rejected")
		}
	default:
		s.logger.WithError(err).Error("request failed")
	}
	if werr := writeError(w, r, err); werr != nil {
		s.logger.WithError(werr).Error("failed to write error response")
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, description string) {
	if err := s.templates.err(w, status, description); err != nil {
		s.logger.WithError(err).Error("server template error")
	}
}
