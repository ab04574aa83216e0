// Package config loads the provider's YAML configuration file.
package config

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pardot/oidc-compliance/oidcserver"
	"github.com/pardot/oidc-compliance/signer"
	"github.com/pardot/oidc-compliance/storage"
	"github.com/pardot/oidc-compliance/storage/disk"
	"github.com/pardot/oidc-compliance/storage/memory"
	sqlstorage "github.com/pardot/oidc-compliance/storage/sql"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config is the format of the file passed to serve.
type Config struct {
	// Issuer is the URL the provider is reachable at, and the iss of every
	// ID token.
	Issuer string `json:"issuer"`
	// Addr is the address to listen on.
	Addr string `json:"addr"`

	AllowedOrigins []string         `json:"allowedOrigins"`
	Paths          oidcserver.Paths `json:"paths"`
	Scopes         []string         `json:"scopes"`
	Claims         []string         `json:"claims"`

	Clients []oidcserver.Client `json:"clients"`

	Lifetimes Lifetimes `json:"lifetimes"`
	Storage   Storage   `json:"storage"`
	Signer    Signer    `json:"signer"`
	Session   Session   `json:"session"`
	Logging   Logging   `json:"logging"`
}

// Lifetimes of issued credentials.
type Lifetimes struct {
	Codes         Duration `json:"codes"`
	AccessTokens  Duration `json:"accessTokens"`
	IDTokens      Duration `json:"idTokens"`
	RefreshTokens Duration `json:"refreshTokens"`
	// GC is how often expired grants are removed from storage.
	GC Duration `json:"gc"`
}

// Storage backend types.
const (
	StorageMemory   = "memory"
	StorageDisk     = "disk"
	StoragePostgres = "postgres"
)

// Storage selects where grants and rotated keys are kept.
type Storage struct {
	Type string `json:"type"`
	// Path is the bbolt database file, for the disk type.
	Path string `json:"path"`
	// URL is the connection string, for the postgres type.
	URL string `json:"url"`
}

// Signer types.
const (
	SignerEphemeral = "ephemeral"
	SignerFile      = "file"
	SignerRotating  = "rotating"
)

// Signer selects how ID tokens are signed.
type Signer struct {
	Type string `json:"type"`
	// KeyFile is a PEM encoded private key, for the file type.
	KeyFile string `json:"keyFile"`
	// KeyID is the kid published for the key in KeyFile. Defaults to
	// "default".
	KeyID string `json:"keyID"`
	// RotateEvery is how often a new key is generated, for the rotating
	// type.
	RotateEvery Duration `json:"rotateEvery"`
}

// Session configures the sign in cookie. Keys are base64 encoded. If no auth
// key is set one is generated at startup, signing everyone out on restart.
type Session struct {
	AuthKey    string `json:"authKey"`
	EncryptKey string `json:"encryptKey"`
	// Insecure allows cookies over plain HTTP.
	Insecure bool `json:"insecure"`
}

// Logging configures logrus.
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration is a time.Duration that is written as a string like "5m" in the
// config file.
type Duration time.Duration

// UnmarshalJSON parses the duration from a string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Load reads the config file at path, and applies the defaults.
func Load(path string) (*Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Error reading %s", path)
	}

	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "Error parsing %s", path)
	}

	c.WithDefaults()
	return c, nil
}

// WithDefaults fills in everything that was left unset.
func (c *Config) WithDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:5556"
	}
	if c.Issuer == "" {
		c.Issuer = "http://" + c.Addr
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), oidcserver.DefaultScopes...)
	}

	setDur := func(d *Duration, def time.Duration) {
		if *d == 0 {
			*d = Duration(def)
		}
	}
	setDur(&c.Lifetimes.Codes, 5*time.Minute)
	setDur(&c.Lifetimes.AccessTokens, 1*time.Hour)
	setDur(&c.Lifetimes.IDTokens, 20*time.Minute)
	setDur(&c.Lifetimes.RefreshTokens, 14*24*time.Hour)
	setDur(&c.Lifetimes.GC, 5*time.Minute)

	if c.Storage.Type == "" {
		c.Storage.Type = StorageMemory
	}
	if c.Signer.Type == "" {
		c.Signer.Type = SignerEphemeral
	}
	if c.Signer.KeyID == "" {
		c.Signer.KeyID = "default"
	}
	setDur(&c.Signer.RotateEvery, 6*time.Hour)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the config can be used to start a server.
func (c *Config) Validate() error {
	var errs []string
	addErr := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	u, err := url.Parse(c.Issuer)
	switch {
	case err != nil:
		addErr("issuer %q is not a URL: %v", c.Issuer, err)
	case u.Scheme != "http" && u.Scheme != "https":
		addErr("issuer %q must be an http or https URL", c.Issuer)
	case u.Host == "":
		addErr("issuer %q has no host", c.Issuer)
	case u.RawQuery != "" || u.Fragment != "":
		addErr("issuer %q can not have a query or fragment", c.Issuer)
	}

	if len(c.Clients) == 0 {
		addErr("no client application was found in the configuration")
	}
	seen := map[string]bool{}
	for i, cl := range c.Clients {
		if cl.ID == "" {
			addErr("client %d has no id", i)
			continue
		}
		if seen[cl.ID] {
			addErr("client %s is defined more than once", cl.ID)
		}
		seen[cl.ID] = true
		if !cl.Public {
			if cl.Secret == "" {
				addErr("client %s must have a secret, or be public", cl.ID)
			}
			if len(cl.RedirectURIs) == 0 {
				addErr("client %s must have at least one redirect URI", cl.ID)
			}
		}
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageDisk:
		if c.Storage.Path == "" {
			addErr("disk storage requires a path")
		}
	case StoragePostgres:
		if c.Storage.URL == "" {
			addErr("postgres storage requires a url")
		}
	default:
		addErr("unknown storage type %q", c.Storage.Type)
	}

	switch c.Signer.Type {
	case SignerEphemeral, SignerRotating:
	case SignerFile:
		if c.Signer.KeyFile == "" {
			addErr("file signer requires a keyFile")
		}
	default:
		addErr("unknown signer type %q", c.Signer.Type)
	}

	if _, _, err := c.Session.Keys(); err != nil {
		addErr("%v", err)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		addErr("%v", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		addErr("log format must be text or json, not %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n\t- %s", strings.Join(errs, "\n\t- "))
	}
	return nil
}

// Keys decodes the session keys. A nil auth key means none was configured.
func (s Session) Keys() (authKey, encryptKey []byte, err error) {
	if s.AuthKey != "" {
		if authKey, err = base64.StdEncoding.DecodeString(s.AuthKey); err != nil {
			return nil, nil, errors.Wrap(err, "failed to base64 decode session authKey")
		}
		if len(authKey) != 32 && len(authKey) != 64 {
			return nil, nil, fmt.Errorf("session authKey must be 32 or 64 bytes, not %d", len(authKey))
		}
	}
	if s.EncryptKey != "" {
		if encryptKey, err = base64.StdEncoding.DecodeString(s.EncryptKey); err != nil {
			return nil, nil, errors.Wrap(err, "failed to base64 decode session encryptKey")
		}
		switch len(encryptKey) {
		case 16, 24, 32:
		default:
			return nil, nil, fmt.Errorf("session encryptKey must be 16, 24 or 32 bytes, not %d", len(encryptKey))
		}
	}
	return authKey, encryptKey, nil
}

// Logger returns a logger writing to stderr at the configured level.
func (l Logging) Logger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Level = lvl
	if l.Format == "json" {
		logger.Formatter = &logrus.JSONFormatter{}
	}
	return logger, nil
}

// Open connects to the configured backend. The returned func releases it.
func (s Storage) Open(ctx context.Context) (storage.Storage, func() error, error) {
	switch s.Type {
	case StorageMemory:
		return memory.New(), func() error { return nil }, nil

	case StorageDisk:
		d, err := disk.New(s.Path, 0600)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Error opening %s", s.Path)
		}
		return d, d.Close, nil

	case StoragePostgres:
		db, err := sql.Open("postgres", s.URL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "Error opening database")
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, errors.Wrap(err, "Error connecting to database")
		}
		st, err := sqlstorage.New(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, db.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown storage type %q", s.Type)
}

// Open returns the configured signer. A rotating signer keeps its keys in st,
// and rotates them until ctx is canceled.
func (s Signer) Open(ctx context.Context, l logrus.FieldLogger, st storage.Storage, idTokensValidFor time.Duration) (signer.Signer, error) {
	switch s.Type {
	case SignerEphemeral:
		ss, err := signer.NewEphemeral(2048)
		if err != nil {
			return nil, err
		}
		return ss, nil

	case SignerFile:
		key, err := signer.LoadPEMKey(s.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "Error loading signing key")
		}
		cs, err := signer.NewFromCrypto(key, s.KeyID)
		if err != nil {
			return nil, err
		}
		return cs, nil

	case SignerRotating:
		rs := signer.NewRotating(l, st, signer.DefaultRotationStrategy(time.Duration(s.RotateEvery), idTokensValidFor))
		if err := rs.Start(ctx); err != nil {
			return nil, errors.Wrap(err, "Error starting key rotation")
		}
		return rs, nil
	}

	return nil, fmt.Errorf("unknown signer type %q", s.Type)
}

// ServerConfig returns the oidcserver configuration for everything that is
// set directly from the file.
func (c *Config) ServerConfig() oidcserver.Config {
	clients := make([]*oidcserver.Client, len(c.Clients))
	for i := range c.Clients {
		cl := c.Clients[i]
		clients[i] = &cl
	}

	return oidcserver.Config{
		Issuer:                c.Issuer,
		Clients:               oidcserver.NewStaticClientSource(clients),
		Scopes:                c.Scopes,
		Claims:                c.Claims,
		Paths:                 c.Paths,
		AllowedOrigins:        c.AllowedOrigins,
		InsecureCookies:       c.Session.Insecure,
		CodesValidFor:         time.Duration(c.Lifetimes.Codes),
		AccessTokensValidFor:  time.Duration(c.Lifetimes.AccessTokens),
		IDTokensValidFor:      time.Duration(c.Lifetimes.IDTokens),
		RefreshTokensValidFor: time.Duration(c.Lifetimes.RefreshTokens),
		GCFrequency:           time.Duration(c.Lifetimes.GC),
	}
}
