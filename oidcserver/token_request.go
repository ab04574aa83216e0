package oidcserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type grantType string

const (
	grantTypeAuthorizationCode grantType = "authorization_code"
	grantTypeRefreshToken      grantType = "refresh_token"
)

const tokenTypeBearer = "Bearer"

type tokenRequest struct {
	GrantType    grantType
	Code         string
	RefreshToken string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

// clientCredentials returns the client authentication sent with the request,
// by HTTP basic auth or in the form body.
//
// https://tools.ietf.org/html/rfc6749#section-2.3.1
func clientCredentials(req *http.Request) (clientID, clientSecret string, err error) {
	cid, cs, isBasic := req.BasicAuth()
	if !isBasic {
		return req.PostForm.Get("client_id"), req.PostForm.Get("client_secret"), nil
	}
	// the basic auth values are form encoded
	if clientID, err = url.QueryUnescape(cid); err != nil {
		return "", "", &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "client_id improperly encoded", Cause: err}
	}
	if clientSecret, err = url.QueryUnescape(cs); err != nil {
		return "", "", &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "client_secret improperly encoded", Cause: err}
	}
	return clientID, clientSecret, nil
}

// parseTokenRequest parses the information from a request for an access token.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.3
// https://tools.ietf.org/html/rfc6749#section-6
func parseTokenRequest(req *http.Request) (*tokenRequest, error) {
	if req.Method != http.MethodPost {
		return nil, &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "method must be POST"}
	}
	if err := req.ParseForm(); err != nil {
		return nil, &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "failed to parse request", Cause: err}
	}

	tr := &tokenRequest{
		RedirectURI:  req.PostForm.Get("redirect_uri"),
		Code:         req.PostForm.Get("code"),
		RefreshToken: req.PostForm.Get("refresh_token"),
	}

	var err error
	tr.ClientID, tr.ClientSecret, err = clientCredentials(req)
	if err != nil {
		return nil, err
	}
	if tr.ClientID == "" {
		return nil, &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "client_id must be specified"}
	}

	switch req.PostForm.Get("grant_type") {
	case string(grantTypeAuthorizationCode):
		if tr.Code == "" {
			return nil, &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "code is required for authorization_code grant"}
		}
		tr.GrantType = grantTypeAuthorizationCode

	case string(grantTypeRefreshToken):
		if tr.RefreshToken == "" {
			return nil, &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "refresh_token is required for refresh grant"}
		}
		tr.GrantType = grantTypeRefreshToken

	case "":
		return nil, &tokenError{Code: tokenErrorCodeInvalidRequest, Description: "grant_type must be specified"}

	default:
		return nil, &tokenError{
			Code:        tokenErrorCodeUnsupportedGrantType,
			Description: fmt.Sprintf("grant_type must be %s or %s", grantTypeAuthorizationCode, grantTypeRefreshToken),
		}
	}

	return tr, nil
}

// tokenResponse is the successful token endpoint response.
//
// https://tools.ietf.org/html/rfc6749#section-5.1
// https://openid.net/specs/openid-connect-core-1_0.html#TokenResponse
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func newTokenResponse(issued *issuedTokens) *tokenResponse {
	return &tokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    issued.ExpiresIn,
		RefreshToken: issued.RefreshToken,
		IDToken:      issued.IDToken,
		Scope:        issued.Scopes.String(),
	}
}

// writeTokenResponse sends a response for the token endpoint.
func writeTokenResponse(w http.ResponseWriter, resp *tokenResponse) error {
	w.Header().Add("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to write token response json body: %w", err)
	}

	return nil
}
