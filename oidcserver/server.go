package oidcserver

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/csrf"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pardot/oidc-compliance/core"
	"github.com/pardot/oidc-compliance/discovery"
	"github.com/pardot/oidc-compliance/signer"
	"github.com/pardot/oidc-compliance/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DefaultScopes are the scopes the server supports if none are configured.
var DefaultScopes = core.Scopes{
	core.ScopeOpenID,
	core.ScopeProfile,
	core.ScopeEmail,
	core.ScopePhone,
	core.ScopeAddress,
	core.ScopeOfflineAccess,
}

// DefaultClaims are advertised in the discovery document if none are
// configured.
var DefaultClaims = []string{
	core.ClaimSubject, core.ClaimName, core.ClaimGivenName, core.ClaimMiddleName,
	core.ClaimFamilyName, core.ClaimNickname, core.ClaimPreferredUsername,
	core.ClaimGender, core.ClaimBirthdate, core.ClaimProfile, core.ClaimPicture,
	core.ClaimWebsite, core.ClaimLocale, core.ClaimZoneinfo, core.ClaimUpdatedAt,
	core.ClaimEmail, core.ClaimEmailVerified, core.ClaimPhoneNumber,
	core.ClaimPhoneNumberVerified, core.ClaimAddress, core.ClaimACR,
	core.ClaimAuthTime, "iss", "aud", "exp", "iat", "nonce", "at_hash",
}

// Paths are the endpoint locations, relative to the issuer URL.
type Paths struct {
	Authorize  string `json:"authorize"`
	Token      string `json:"token"`
	Userinfo   string `json:"userinfo"`
	Introspect string `json:"introspect"`
	Signin     string `json:"signin"`
	Signout    string `json:"signout"`
	Discovery  string `json:"discovery"`
	Keys       string `json:"keys"`
	Healthz    string `json:"healthz"`
	Metrics    string `json:"metrics"`
}

func (p Paths) withDefaults() Paths {
	set := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	set(&p.Authorize, "/connect/authorize")
	set(&p.Token, "/connect/token")
	set(&p.Userinfo, "/connect/userinfo")
	set(&p.Introspect, "/connect/introspect")
	set(&p.Signin, "/signin")
	set(&p.Signout, "/signout")
	set(&p.Discovery, "/.well-known/openid-configuration")
	set(&p.Keys, "/.well-known/jwks")
	set(&p.Healthz, "/healthz")
	set(&p.Metrics, "/metrics")
	return p
}

// Config holds the server's configuration options.
//
// Multiple servers using the same storage are expected to be configured
// identically, including the session keys.
type Config struct {
	Issuer string

	// The backing persistence layer for codes and tokens.
	Storage storage.Storage

	Clients ClientSource
	Users   UserSource
	Signer  signer.Signer

	// Scopes the server can grant. Defaults to DefaultScopes.
	Scopes []string
	// Claims advertised in the discovery document. Defaults to DefaultClaims.
	Claims []string

	Paths Paths

	// List of allowed origins for CORS requests on discovery, token, keys and
	// userinfo endpoints. If none are indicated, CORS requests are disabled.
	// Passing in "*" will allow any domain.
	AllowedOrigins []string

	// SessionAuthKey signs the session cookie, and the CSRF token. It must be
	// 32 or 64 bytes.
	SessionAuthKey []byte
	// SessionEncryptKey encrypts the session cookie, if set. It must be 16,
	// 24 or 32 bytes.
	SessionEncryptKey []byte
	// InsecureCookies allows the session and CSRF cookies to be sent over
	// plain HTTP. Only for local testing.
	InsecureCookies bool

	CodesValidFor         time.Duration // Defaults to 5 minutes
	AccessTokensValidFor  time.Duration // Defaults to 1 hour
	IDTokensValidFor      time.Duration // Defaults to 20 minutes
	RefreshTokensValidFor time.Duration // Defaults to 14 days

	GCFrequency time.Duration // Defaults to 5 minutes

	// If specified, the server will use this function for determining time.
	Now func() time.Time

	Logger logrus.FieldLogger

	PrometheusRegistry *prometheus.Registry
}

func value(val, defaultValue time.Duration) time.Duration {
	if val == 0 {
		return defaultValue
	}
	return val
}

// Server is the top level object.
type Server struct {
	issuer    string
	issuerURL url.URL
	paths     Paths

	clients  ClientSource
	users    UserSource
	signer   signer.Signer
	grants   *grantStore
	sessions *sessionManager

	scopes core.Scopes

	mux http.Handler

	templates *templates

	now func() time.Time

	codesValidFor         time.Duration
	accessTokensValidFor  time.Duration
	idTokensValidFor      time.Duration
	refreshTokensValidFor time.Duration

	logger logrus.FieldLogger
}

// NewServer constructs a server from the provided config. Expired grants are
// removed from storage in the background until ctx is canceled.
func NewServer(ctx context.Context, c Config) (*Server, error) {
	issuerURL, err := url.Parse(c.Issuer)
	if err != nil || issuerURL.Scheme == "" || issuerURL.Host == "" {
		return nil, fmt.Errorf("server: can't parse issuer URL %q", c.Issuer)
	}
	issuerURL.Path = strings.TrimSuffix(issuerURL.Path, "/")

	switch {
	case c.Storage == nil:
		return nil, errors.New("server: storage cannot be nil")
	case c.Clients == nil:
		return nil, errors.New("server: clients cannot be nil")
	case c.Users == nil:
		return nil, errors.New("server: users cannot be nil")
	case c.Signer == nil:
		return nil, errors.New("server: signer cannot be nil")
	case len(c.SessionAuthKey) == 0:
		return nil, errors.New("server: a session auth key is required")
	}

	logger := c.Logger
	if logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		logger = l
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}

	scopes := core.Scopes(c.Scopes)
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	claims := c.Claims
	if len(claims) == 0 {
		claims = DefaultClaims
	}

	tmpls, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("server: failed to load templates: %v", err)
	}

	s := &Server{
		issuer:    issuerURL.String(),
		issuerURL: *issuerURL,
		paths:     c.Paths.withDefaults(),
		clients:   c.Clients,
		users:     c.Users,
		signer:    c.Signer,
		grants: &grantStore{
			storage: c.Storage,
			logger:  logger,
			now:     now,
		},
		scopes:                scopes,
		templates:             tmpls,
		now:                   now,
		codesValidFor:         value(c.CodesValidFor, 5*time.Minute),
		accessTokensValidFor:  value(c.AccessTokensValidFor, 1*time.Hour),
		idTokensValidFor:      value(c.IDTokensValidFor, 20*time.Minute),
		refreshTokensValidFor: value(c.RefreshTokensValidFor, 14*24*time.Hour),
		logger:                logger,
	}
	s.sessions = newCookieSessionManager(c.SessionAuthKey, c.SessionEncryptKey, !c.InsecureCookies, s.absPath("/"))

	registry := c.PrometheusRegistry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests.",
	}, []string{"handler", "code", "method"})

	err = registry.Register(requestCounter)
	if err != nil {
		return nil, fmt.Errorf("server: Failed to register Prometheus HTTP metrics: %v", err)
	}

	instrumentHandlerCounter := func(handlerName string, handler http.Handler) http.HandlerFunc {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			requestCounter.With(prometheus.Labels{"handler": handlerName, "code": strconv.Itoa(m.Code), "method": r.Method}).Inc()
		})
	}

	r := mux.NewRouter()
	handle := func(p string, h http.Handler, methods ...string) {
		r.Handle(s.absPath(p), instrumentHandlerCounter(p, h)).Methods(methods...)
	}
	handleWithCORS := func(p string, h http.Handler, methods ...string) {
		if len(c.AllowedOrigins) > 0 {
			corsOption := handlers.AllowedOrigins(c.AllowedOrigins)
			h = handlers.CORS(corsOption, handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}))(h)
			methods = append(methods, http.MethodOptions)
		}
		handle(p, h, methods...)
	}
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	protect := csrf.Protect(
		c.SessionAuthKey,
		csrf.Secure(!c.InsecureCookies),
		csrf.Path(s.absPath("/")),
		csrf.ErrorHandler(http.HandlerFunc(s.handleCSRFError)),
	)

	md := &discovery.ProviderMetadata{
		Issuer:                s.issuer,
		AuthorizationEndpoint: s.absURL(s.paths.Authorize),
		TokenEndpoint:         s.absURL(s.paths.Token),
		UserinfoEndpoint:      s.absURL(s.paths.Userinfo),
		JWKSURI:               s.absURL(s.paths.Keys),
		IntrospectionEndpoint: s.absURL(s.paths.Introspect),
		ScopesSupported:       scopes,
		ClaimsSupported:       claims,
		ACRValuesSupported:    []string{core.ACRSatisfied},
	}
	if alg, err := c.Signer.SignerAlg(ctx); err == nil {
		md.IDTokenSigningAlgValuesSupported = []string{string(alg)}
	}
	discoveryHandler, err := discovery.NewConfigurationHandler(md, discovery.WithProviderDefaults())
	if err != nil {
		return nil, fmt.Errorf("server: invalid provider metadata: %w", err)
	}

	handleWithCORS(s.paths.Discovery, discoveryHandler, http.MethodGet)
	handleWithCORS(s.paths.Keys, discovery.NewKeysHandler(c.Signer, 1*time.Minute), http.MethodGet)
	handleWithCORS(s.paths.Token, http.HandlerFunc(s.handleToken), http.MethodPost)
	handleWithCORS(s.paths.Userinfo, http.HandlerFunc(s.handleUserinfo), http.MethodGet, http.MethodPost)
	handle(s.paths.Introspect, http.HandlerFunc(s.handleIntrospect), http.MethodPost)
	handle(s.paths.Authorize, http.HandlerFunc(s.handleAuthorize), http.MethodGet, http.MethodPost)
	handle(s.paths.Signin, protect(http.HandlerFunc(s.handleSignin)), http.MethodGet, http.MethodPost)
	handle(s.paths.Signout, protect(http.HandlerFunc(s.handleSignout)), http.MethodPost)
	handle(s.paths.Healthz, http.HandlerFunc(s.handleHealthz), http.MethodGet)
	handle(s.paths.Metrics, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), http.MethodGet)
	s.mux = r

	storage.Sweep(ctx, logger, c.Storage, value(c.GCFrequency, 5*time.Minute))

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) absPath(pathItems ...string) string {
	paths := make([]string, len(pathItems)+1)
	paths[0] = s.issuerURL.Path
	copy(paths[1:], pathItems)
	p := path.Join(paths...)
	if p == "" {
		return "/"
	}
	return p
}

func (s *Server) absURL(pathItems ...string) string {
	u := s.issuerURL
	u.Path = s.absPath(pathItems...)
	return u.String()
}

func (s *Server) handleCSRFError(w http.ResponseWriter, r *http.Request) {
	s.logger.WithError(csrf.FailureReason(r)).Info("csrf validation failed")
	s.renderError(w, http.StatusForbidden, "The form has expired, please try again.")
}
