package oidcserver

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	oidc "github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
)

var csrfFieldRe = regexp.MustCompile(`name="gorilla.csrf.Token" value="([^"]+)"`)

// callbackServer is a relying party redirect URI, that passes the parameters
// it receives to the test.
func callbackServer(t *testing.T) (*httptest.Server, <-chan url.Values) {
	t.Helper()
	ch := make(chan url.Values, 1)
	cs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse callback: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ch <- r.Form
		_, _ = w.Write([]byte("done"))
	}))
	t.Cleanup(cs.Close)
	return cs, ch
}

func browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Jar: jar}
}

// submitForm fetches the page at pageURL, and posts the form values to
// action along with the page's CSRF token.
func submitForm(t *testing.T, hc *http.Client, pageURL, action string, form url.Values) *http.Response {
	t.Helper()

	resp, err := hc.Get(pageURL)
	if err != nil {
		t.Fatalf("fetching %s: %v", pageURL, err)
	}
	body, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	m := csrfFieldRe.FindStringSubmatch(string(body))
	if m == nil {
		t.Fatalf("no CSRF token on page %s:\n%s", pageURL, body)
	}
	form.Set("gorilla.csrf.Token", m[1])

	resp, err = hc.PostForm(action, form)
	if err != nil {
		t.Fatalf("posting to %s: %v", action, err)
	}
	return resp
}

func waitForCallback(t *testing.T, ch <-chan url.Values) url.Values {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("waiting for callback timed out after 5s")
	}
	return nil
}

func TestE2E(t *testing.T) {
	ctx := context.Background()

	cliSvr, callbacks := callbackServer(t)
	_, hs := newTestServer(t, func(c *Config) {
		c.Clients = NewStaticClientSource(append(testClients(), &Client{
			ID:           "e2e",
			Secret:       "e2e-secret",
			RedirectURIs: []string{cliSvr.URL},
		}))
	})

	provider, err := oidc.NewProvider(ctx, hs.URL)
	if err != nil {
		t.Fatalf("discovering provider: %v", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: "e2e"})

	oa2cfg := oauth2.Config{
		ClientID:     "e2e",
		ClientSecret: "e2e-secret",
		RedirectURL:  cliSvr.URL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
	}

	hc := browser(t)
	const nonce = "n-0S6_WzA2Mj"

	// the first request has no session, so the user is sent to sign in.
	resp, err := hc.Get(oa2cfg.AuthCodeURL("state1", oidc.Nonce(nonce)))
	if err != nil {
		t.Fatalf("starting authorization: %v", err)
	}
	resp.Body.Close()
	signinURL := resp.Request.URL
	if signinURL.Path != "/signin" {
		t.Fatalf("want to land on sign in, got %s", signinURL)
	}

	resp = submitForm(t, hc, signinURL.String(), hs.URL+"/signin", url.Values{
		"username":  []string{"john"},
		"returnUrl": []string{signinURL.Query().Get("returnUrl")},
	})
	resp.Body.Close()

	cb := waitForCallback(t, callbacks)
	if cb.Get("state") != "state1" {
		t.Errorf("want state1, got %q", cb.Get("state"))
	}
	code := cb.Get("code")
	if code == "" {
		t.Fatalf("no code in callback: %v", cb)
	}

	tok, err := oa2cfg.Exchange(ctx, code)
	if err != nil {
		t.Fatalf("exchanging code: %v", err)
	}
	if tok.RefreshToken == "" {
		t.Error("want a refresh token with offline_access")
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		t.Fatal("no id_token included in response")
	}
	idt, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		t.Fatalf("verifying id token: %v", err)
	}
	if idt.Nonce != nonce {
		t.Errorf("want nonce %s, got %q", nonce, idt.Nonce)
	}
	if idt.Subject != "7DADB7DB-0637-4446-8626-2781B06A9E20" {
		t.Errorf("unexpected subject %s", idt.Subject)
	}
	var idClaims struct {
		Name      string `json:"name"`
		GivenName string `json:"given_name"`
		Email     string `json:"email"`
		AuthTime  int64  `json:"auth_time"`
		UpdatedAt int64  `json:"updated_at"`
		Phone     string `json:"phone_number"`
		ACR       string `json:"acr"`
	}
	if err := idt.Claims(&idClaims); err != nil {
		t.Fatal(err)
	}
	if idClaims.Name != "John F. Kennedy" || idClaims.GivenName != "John" || idClaims.Email != "john.fitzgerald.kennedy@usa.gov" {
		t.Errorf("unexpected id token claims: %+v", idClaims)
	}
	if idClaims.UpdatedAt != 1483225200 {
		t.Errorf("want updated_at as a number, got %d", idClaims.UpdatedAt)
	}
	if idClaims.AuthTime == 0 {
		t.Error("want auth_time carried from the authorization")
	}
	if idClaims.Phone != "" || idClaims.ACR != "" {
		t.Errorf("unrequested claims in id token: %+v", idClaims)
	}

	ui, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		t.Fatalf("fetching userinfo: %v", err)
	}
	if ui.Subject != idt.Subject || ui.Email != "john.fitzgerald.kennedy@usa.gov" {
		t.Errorf("unexpected userinfo %+v", ui)
	}

	// refresh tokens rotate, and can only be used once.
	refreshed, err := oa2cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		t.Fatalf("refreshing: %v", err)
	}
	if refreshed.RefreshToken == "" || refreshed.RefreshToken == tok.RefreshToken {
		t.Errorf("want a new refresh token, got %q", refreshed.RefreshToken)
	}
	refreshedID, ok := refreshed.Extra("id_token").(string)
	if !ok {
		t.Fatal("no id_token in refresh response")
	}
	ridt, err := verifier.Verify(ctx, refreshedID)
	if err != nil {
		t.Fatalf("verifying refreshed id token: %v", err)
	}
	if ridt.Subject != idt.Subject {
		t.Errorf("want subject %s after refresh, got %s", idt.Subject, ridt.Subject)
	}
	if ridt.Nonce != "" {
		t.Errorf("refreshed id token should not carry a nonce, got %q", ridt.Nonce)
	}
	if _, err := oa2cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token(); err == nil {
		t.Error("reusing a refresh token should fail")
	}

	// the session is reused without prompting.
	resp, err = hc.Get(oa2cfg.AuthCodeURL("state2", oauth2.SetAuthURLParam("prompt", "none")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	cb = waitForCallback(t, callbacks)
	if cb.Get("code") == "" || cb.Get("state") != "state2" {
		t.Errorf("want a code for the existing session, got %v", cb)
	}

	// replaying the first code revokes everything issued from it.
	if _, err := oa2cfg.Exchange(ctx, code); err == nil {
		t.Fatal("replaying a code should fail")
	}
	if _, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(tok)); err == nil {
		t.Error("access token should be revoked after code replay")
	}
	if _, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(refreshed)); err == nil {
		t.Error("refreshed access token should be revoked after code replay")
	}
	if _, err := oa2cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshed.RefreshToken}).Token(); err == nil {
		t.Error("refresh token should be revoked after code replay")
	}

	// after signing out, silent authorization fails.
	resp = submitForm(t, hc, hs.URL+"/signin", hs.URL+"/signout", url.Values{})
	resp.Body.Close()
	resp, err = hc.Get(oa2cfg.AuthCodeURL("state3", oauth2.SetAuthURLParam("prompt", "none")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	cb = waitForCallback(t, callbacks)
	if cb.Get("error") != "login_required" || cb.Get("state") != "state3" {
		t.Errorf("want login_required after sign out, got %v", cb)
	}
}

func TestSignin(t *testing.T) {
	_, hs := newTestServer(t)

	t.Run("page lists users", func(t *testing.T) {
		resp, err := browser(t).Get(hs.URL + "/signin")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := ioutil.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("want status 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), "Donald") || !strings.Contains(string(body), "John") {
			t.Errorf("want users listed on the page:\n%s", body)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		resp := submitForm(t, browser(t), hs.URL+"/signin", hs.URL+"/signin", url.Values{"username": []string{"Richard"}})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("want status 401, got %d", resp.StatusCode)
		}
	})

	t.Run("missing CSRF token", func(t *testing.T) {
		resp, err := browser(t).PostForm(hs.URL+"/signin", url.Values{"username": []string{"John"}})
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("want status 403, got %d", resp.StatusCode)
		}
	})

	t.Run("non-local return URL", func(t *testing.T) {
		resp, err := browser(t).Get(hs.URL + "/signin?returnUrl=" + url.QueryEscape("//evil.example.com/"))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("want status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("signed in", func(t *testing.T) {
		hc := browser(t)
		resp := submitForm(t, hc, hs.URL+"/signin", hs.URL+"/signin", url.Values{"username": []string{"Donald"}})
		defer resp.Body.Close()
		body, _ := ioutil.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("want status 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), "Signed in as Donald") {
			t.Errorf("want signed in user shown:\n%s", body)
		}
	})
}
