package oidcserver

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pardot/oidc-compliance/core"
)

type responseType string

const (
	responseTypeCode         responseType = "code"
	responseTypeIDToken      responseType = "id_token"
	responseTypeIDTokenToken responseType = "id_token token"
)

// issuesFromAuthorization returns true if tokens are sent straight back from
// the authorization endpoint, aka the implicit flow.
func (r responseType) issuesFromAuthorization() bool {
	return r != responseTypeCode
}

// parseResponseType normalizes the order of the space separated values.
func parseResponseType(s string) (responseType, bool) {
	f := strings.Fields(s)
	switch {
	case len(f) == 1 && f[0] == "code":
		return responseTypeCode, true
	case len(f) == 1 && f[0] == "id_token":
		return responseTypeIDToken, true
	case len(f) == 2 && ((f[0] == "id_token" && f[1] == "token") || (f[0] == "token" && f[1] == "id_token")):
		return responseTypeIDTokenToken, true
	}
	return "", false
}

type responseMode string

// https://openid.net/specs/oauth-v2-multiple-response-types-1_0.html#ResponseModes
const (
	responseModeQuery    responseMode = "query"
	responseModeFragment responseMode = "fragment"
)

type authRequest struct {
	ClientID    string
	RedirectURI string
	State       string
	Scopes      core.Scopes
	// ResponseType is empty if the request named a type we don't serve.
	ResponseType responseType
	// RawResponseType is the response_type parameter as sent.
	RawResponseType string
	Mode            responseMode
	Nonce           string
	Prompts         []string
	// MaxAge is nil if the parameter was not sent.
	MaxAge    *int64
	ACRValues string
	// Params holds every parameter of the request, for replaying it after
	// the user has signed in.
	Params url.Values
}

// parseAuthRequest can be used to process an authentication request,
// returning information about it. Only failures that can't be sent back to
// a redirect URI are returned here, as the client is not known yet.
//
// https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
func parseAuthRequest(req *http.Request) (authReq *authRequest, err error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, &httpError{Code: http.StatusMethodNotAllowed, Message: "method must be POST or GET"}
	}

	if err := req.ParseForm(); err != nil {
		return nil, &httpError{Code: http.StatusBadRequest, Message: "failed to parse request", Cause: err}
	}

	ar := &authRequest{
		ClientID:        req.Form.Get("client_id"),
		RedirectURI:     req.Form.Get("redirect_uri"),
		State:           req.Form.Get("state"),
		Scopes:          core.ParseScopes(req.Form.Get("scope")),
		RawResponseType: req.Form.Get("response_type"),
		Nonce:           req.Form.Get("nonce"),
		Prompts:         strings.Fields(req.Form.Get("prompt")),
		ACRValues:       req.Form.Get("acr_values"),
		Params:          req.Form,
	}

	if ar.ClientID == "" {
		return nil, &httpError{Code: http.StatusBadRequest, Message: "client_id must be specified"}
	}

	ar.ResponseType, _ = parseResponseType(ar.RawResponseType)

	// Anything that could carry a token uses the fragment, even if the query
	// was asked for.
	ar.Mode = responseModeQuery
	if strings.Contains(ar.RawResponseType, "token") ||
		responseMode(req.Form.Get("response_mode")) == responseModeFragment {
		ar.Mode = responseModeFragment
	}

	return ar, nil
}

// validate checks the parts of the request that are reported back to the
// client's redirect URI. It must be called after the redirect URI has been
// verified.
func (a *authRequest) validate() *authError {
	authErr := func(code authErrorCode, desc string) *authError {
		return &authError{
			State:       a.State,
			Code:        code,
			Description: desc,
			RedirectURI: a.RedirectURI,
			Mode:        a.Mode,
		}
	}

	if a.ResponseType == "" {
		if a.RawResponseType == "" {
			return authErr(authErrorCodeInvalidRequest, "response_type must be specified")
		}
		return authErr(authErrorCodeUnsupportedResponseType, `response_type must be one of "code", "id_token" or "id_token token"`)
	}

	if !a.Scopes.Has(core.ScopeOpenID) {
		return authErr(authErrorCodeInvalidRequest, "the openid scope is required")
	}

	// https://openid.net/specs/openid-connect-core-1_0.html#ImplicitAuthRequest
	if a.ResponseType.issuesFromAuthorization() && a.Nonce == "" {
		return authErr(authErrorCodeInvalidRequest, "nonce is required for the implicit flow")
	}

	for _, p := range a.Prompts {
		switch p {
		case core.PromptNone, core.PromptLogin, core.PromptConsent, core.PromptSelectAccount, core.PromptContinue:
		default:
			return authErr(authErrorCodeInvalidRequest, "unknown prompt value "+strconv.Quote(p))
		}
	}
	if len(a.Prompts) > 1 && a.hasPrompt(core.PromptNone) {
		return authErr(authErrorCodeInvalidRequest, "prompt none can not be combined with other values")
	}

	if ma := a.Params.Get("max_age"); ma != "" {
		n, err := strconv.ParseInt(ma, 10, 64)
		if err != nil || n < 0 {
			return authErr(authErrorCodeInvalidRequest, "max_age must be a non-negative integer")
		}
		a.MaxAge = &n
	}

	if a.Params.Get("request") != "" || a.Params.Get("request_uri") != "" {
		return authErr(authErrorCodeInvalidRequest, "request objects are not supported")
	}

	return nil
}

func (a *authRequest) hasPrompt(prompt string) bool {
	for _, p := range a.Prompts {
		if p == prompt {
			return true
		}
	}
	return false
}

// addResponseParams returns the redirect URI with the params added in the
// given mode's location.
//
// https://openid.net/specs/oauth-v2-multiple-response-types-1_0.html#ResponseModes
func addResponseParams(redir *url.URL, mode responseMode, params url.Values) string {
	u := *redir
	if mode == responseModeFragment {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// authResponse holds what is sent back to the client on success.
type authResponse struct {
	Code        string
	AccessToken string
	ExpiresIn   int64
	IDToken     string
	Scopes      core.Scopes
}

// sendAuthResponse redirects the user agent back to the client.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.2
// https://openid.net/specs/openid-connect-core-1_0.html#ImplicitAuthResponse
func sendAuthResponse(w http.ResponseWriter, req *http.Request, ar *authRequest, resp *authResponse) error {
	redir, err := url.Parse(ar.RedirectURI)
	if err != nil {
		return internalError("failed to parse redirect URI", err)
	}

	v := url.Values{}
	if resp.Code != "" {
		v.Set("code", resp.Code)
	}
	if resp.AccessToken != "" {
		v.Set("access_token", resp.AccessToken)
		v.Set("token_type", tokenTypeBearer)
		v.Set("expires_in", strconv.FormatInt(resp.ExpiresIn, 10))
		v.Set("scope", resp.Scopes.String())
	}
	if resp.IDToken != "" {
		v.Set("id_token", resp.IDToken)
	}
	if ar.State != "" {
		v.Set("state", ar.State)
	}

	http.Redirect(w, req, addResponseParams(redir, ar.Mode, v), http.StatusFound)
	return nil
}
