package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestCryptoSigner(t *testing.T) {
	ctx := context.Background()

	rsaKey := mustGenRSAKey(2048)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	dir, err := ioutil.TempDir("", "signer-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	writePEM := func(name, typ string, der []byte) string {
		p := filepath.Join(dir, name)
		if err := ioutil.WriteFile(p, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8DER, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name    string
		path    string
		wantAlg string
	}{
		{name: "pkcs1", path: writePEM("rsa.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey)), wantAlg: "RS256"},
		{name: "sec1", path: writePEM("ec.pem", "EC PRIVATE KEY", ecDER), wantAlg: "ES256"},
		{name: "pkcs8", path: writePEM("pkcs8.pem", "PRIVATE KEY", pkcs8DER), wantAlg: "RS256"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			key, err := LoadPEMKey(tc.path)
			if err != nil {
				t.Fatal(err)
			}

			s, err := NewFromCrypto(key, "somekey")
			if err != nil {
				t.Fatalf("failed to create signer: %v", err)
			}

			alg, err := s.SignerAlg(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if string(alg) != tc.wantAlg {
				t.Errorf("want alg %s, got %s", tc.wantAlg, alg)
			}

			jwt := []byte(`{"sub": "sub ject"}`)

			signed, err := s.Sign(ctx, jwt)
			if err != nil {
				t.Fatalf("error signing: %v", err)
			}

			pl, err := s.VerifySignature(ctx, string(signed))
			if err != nil {
				t.Fatalf("error verifying signed jwt: %v", err)
			}

			if string(pl) != string(jwt) {
				t.Fatalf("want: %s, got: %s", string(jwt), string(pl))
			}
		})
	}

	if _, err := LoadPEMKey(writePEM("cert.pem", "CERTIFICATE", []byte("nope"))); err == nil {
		t.Error("want error loading unsupported block")
	}
}
