package oidcserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// writeError handles the passed error appropriately. After calling this, the
// HTTP sequence should be considered complete.
//
// For errors in the authorization endpoint, the user will be redirected with
// the code appended to the redirect URL, in the query or fragment depending
// on the response mode.
// https://tools.ietf.org/html/rfc6749#section-4.1.2.1
//
// For unknown errors, an InternalServerError response will be sent
func writeError(w http.ResponseWriter, req *http.Request, err error) error {
	switch err := err.(type) {
	case *authError:
		redir, perr := url.Parse(err.RedirectURI)
		if perr != nil {
			return fmt.Errorf("failed to parse redirect URI %q: %w", err.RedirectURI, perr)
		}
		v := url.Values{}
		if err.State != "" {
			v.Add("state", err.State)
		}
		v.Add("error", string(err.Code))
		if err.Description != "" {
			v.Add("error_description", err.Description)
		}
		http.Redirect(w, req, addResponseParams(redir, err.Mode, v), http.StatusFound)

	case *httpError:
		m := err.Message
		if m == "" {
			m = "Internal error"
		}
		http.Error(w, m, err.Code)

	case *tokenError:
		w.Header().Add("Content-Type", "application/json;charset=UTF-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		// https://tools.ietf.org/html/rfc6749#section-5.2
		if err.Code == tokenErrorCodeInvalidClient {
			if err.WWWAuthenticate != "" {
				w.Header().Add("WWW-Authenticate", err.WWWAuthenticate)
			}
			w.WriteHeader(http.StatusUnauthorized)
		} else {
			w.WriteHeader(http.StatusBadRequest)
		}
		if err := json.NewEncoder(w).Encode(err); err != nil {
			return fmt.Errorf("failed to write token error json body: %w", err)
		}

	case *bearerError:
		// https://tools.ietf.org/html/rfc6750#section-3
		challenge := `Bearer error="` + string(err.Code) + `"`
		if err.Description != "" {
			challenge += `, error_description="` + err.Description + `"`
		}
		w.Header().Set("WWW-Authenticate", challenge)
		w.Header().Add("Content-Type", "application/json;charset=UTF-8")
		w.WriteHeader(http.StatusUnauthorized)
		if err := json.NewEncoder(w).Encode(err); err != nil {
			return fmt.Errorf("failed to write bearer error json body: %w", err)
		}

	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}

	return nil
}

type httpError struct {
	Code int
	// Message is presented to the user, so this should be considered.
	// if it's not set, "Internal error" will be used.
	Message string
	// cause message is presented in the Error() output, so it should be used
	// for internal text
	CauseMsg string
	Cause    error
}

func (h *httpError) Error() string {
	m := h.CauseMsg
	if m == "" {
		m = h.Message
	}
	str := fmt.Sprintf("http error %d: %s", h.Code, m)
	if h.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, h.Cause.Error())
	}
	return str
}

func (h *httpError) Unwrap() error {
	return h.Cause
}

// internalError is the httpError for failures the user can do nothing about.
func internalError(causeMsg string, cause error) *httpError {
	return &httpError{Code: http.StatusInternalServerError, Message: "internal error", CauseMsg: causeMsg, Cause: cause}
}

type authErrorCode string

// https://tools.ietf.org/html/rfc6749#section-4.1.2.1
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
const (
	authErrorCodeInvalidRequest          authErrorCode = "invalid_request"
	authErrorCodeUnauthorizedClient      authErrorCode = "unauthorized_client"
	authErrorCodeUnsupportedResponseType authErrorCode = "unsupported_response_type"
	authErrorCodeServerError             authErrorCode = "server_error"
	authErrorCodeLoginRequired           authErrorCode = "login_required"
)

type authError struct {
	State       string
	Code        authErrorCode
	Description string
	RedirectURI string
	Mode        responseMode
	Cause       error
}

func (a *authError) Error() string {
	str := fmt.Sprintf("%s error in authorization request: %s", a.Code, a.Description)
	if a.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, a.Cause.Error())
	}
	return str
}

func (a *authError) Unwrap() error {
	return a.Cause
}

type tokenErrorCode string

// https://tools.ietf.org/html/rfc6749#section-5.2
const (
	tokenErrorCodeInvalidRequest       tokenErrorCode = "invalid_request"
	tokenErrorCodeInvalidClient        tokenErrorCode = "invalid_client"
	tokenErrorCodeInvalidGrant         tokenErrorCode = "invalid_grant"
	tokenErrorCodeUnauthorizedClient   tokenErrorCode = "unauthorized_client"
	tokenErrorCodeUnsupportedGrantType tokenErrorCode = "unsupported_grant_type"
)

type tokenError struct {
	Code            tokenErrorCode `json:"error,omitempty"`
	Description     string         `json:"error_description,omitempty"`
	ErrorURI        string         `json:"error_uri,omitempty"`
	Cause           error          `json:"-"`
	WWWAuthenticate string         `json:"-"`
}

func (t *tokenError) Error() string {
	str := fmt.Sprintf("%s error in token request: %s", t.Code, t.Description)
	if t.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, t.Cause.Error())
	}
	return str
}

func (t *tokenError) Unwrap() error {
	return t.Cause
}

type bearerErrorCode string

// https://tools.ietf.org/html/rfc6750#section-3.1
const (
	bearerErrorCodeInvalidRequest bearerErrorCode = "invalid_request"
	bearerErrorCodeInvalidToken   bearerErrorCode = "invalid_token"
)

// bearerError is returned from resources protected by an access token.
type bearerError struct {
	Code        bearerErrorCode `json:"error"`
	Description string          `json:"error_description,omitempty"`
}

func (b *bearerError) Error() string {
	return fmt.Sprintf("%s error in resource request: %s", b.Code, b.Description)
}
