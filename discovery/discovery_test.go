package discovery

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/square/go-jose.v2"
)

type mockKeysource struct {
	keys  []jose.JSONWebKey
	calls int32
}

func (m *mockKeysource) PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	atomic.AddInt32(&m.calls, 1)
	return &jose.JSONWebKeySet{Keys: m.keys}, nil
}

func testKeysource(t *testing.T) *mockKeysource {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	return &mockKeysource{
		keys: []jose.JSONWebKey{
			{
				Key:       key.Public(),
				KeyID:     "testkey",
				Algorithm: "RS256",
				Use:       "sig",
			},
		},
	}
}

func TestDiscovery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ks := testKeysource(t)

	m := http.NewServeMux()
	ts := httptest.NewServer(m)
	defer ts.Close()

	pm := &ProviderMetadata{
		Issuer:                ts.URL,
		AuthorizationEndpoint: ts.URL + "/connect/authorize",
		TokenEndpoint:         ts.URL + "/connect/token",
		JWKSURI:               ts.URL + "/.well-known/jwks",
	}

	h, err := NewConfigurationHandler(pm, WithProviderDefaults())
	if err != nil {
		t.Fatalf("error creating handler: %v", err)
	}
	m.Handle(oidcwk, h)
	m.Handle("/.well-known/jwks", NewKeysHandler(ks, time.Minute))

	cli, err := NewClient(ctx, ts.URL)
	if err != nil {
		t.Fatalf("failed to create discovery client: %v", err)
	}

	if diff := cmp.Diff([]string{"authorization_code", "implicit", "refresh_token"}, cli.Metadata().GrantTypesSupported); diff != "" {
		t.Errorf("grant types: %s", diff)
	}

	_, err = cli.GetPublicKey(ctx, "testkey")
	if err != nil {
		t.Errorf("wanted no error getting testkey, got: %v", err)
	}

	_, err = cli.GetPublicKey(ctx, "badkey")
	if err == nil {
		t.Errorf("wanted error getting non-existent key, but got none")
	}

	if _, err := NewClient(ctx, ts.URL+"/other"); err == nil {
		t.Error("wanted error discovering a different issuer")
	}
}

func TestProviderDefaults(t *testing.T) {
	pm := &ProviderMetadata{
		Issuer:                 "https://issuer",
		AuthorizationEndpoint:  "https://issuer/connect/authorize",
		TokenEndpoint:          "https://issuer/connect/token",
		IntrospectionEndpoint:  "https://issuer/connect/introspect",
		JWKSURI:                "https://issuer/.well-known/jwks",
		ResponseTypesSupported: []string{"code"},
	}

	h, err := NewConfigurationHandler(pm, WithProviderDefaults())
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, oidcwk, nil))

	got := map[string]interface{}{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]interface{}{"code"}, got["response_types_supported"]); diff != "" {
		t.Errorf("want explicit response types kept: %s", diff)
	}
	if diff := cmp.Diff([]interface{}{"client_secret_basic", "client_secret_post"}, got["introspection_endpoint_auth_methods_supported"]); diff != "" {
		t.Errorf("introspection auth methods: %s", diff)
	}
	if got["claims_parameter_supported"] != false {
		t.Errorf("want claims_parameter_supported false, got %v", got["claims_parameter_supported"])
	}
}

func TestInvalidMetadata(t *testing.T) {
	for name, pm := range map[string]*ProviderMetadata{
		"empty": {},
		"issuer with query": {
			Issuer:                "https://issuer?a=b",
			AuthorizationEndpoint: "https://issuer/auth",
			TokenEndpoint:         "https://issuer/token",
			JWKSURI:               "https://issuer/jwks",
		},
	} {
		if _, err := NewConfigurationHandler(pm, WithProviderDefaults()); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestKeysHandlerCache(t *testing.T) {
	ks := testKeysource(t)
	h := NewKeysHandler(ks, time.Minute)

	now := time.Now()
	h.now = func() time.Time { return now }

	get := func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if cc := rec.Header().Get("Cache-Control"); cc != "max-age=60, must-revalidate" {
			t.Errorf("unexpected cache-control %q", cc)
		}
		gotks := &jose.JSONWebKeySet{}
		if err := json.Unmarshal(rec.Body.Bytes(), gotks); err != nil {
			t.Fatal(err)
		}
		if len(gotks.Keys) != 1 || gotks.Keys[0].KeyID != "testkey" {
			t.Errorf("unexpected keys %v", gotks.Keys)
		}
	}

	get()
	get()
	if ks.calls != 1 {
		t.Errorf("want keys to be cached, got %d lookups", ks.calls)
	}

	now = now.Add(2 * time.Minute)
	get()
	if ks.calls != 2 {
		t.Errorf("want keys refreshed after cache period, got %d lookups", ks.calls)
	}
}
