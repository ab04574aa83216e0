package discovery

import (
	"net/http"

	"gopkg.in/square/go-jose.v2/json"
)

var _ http.Handler = (*ConfigurationHandler)(nil)

// ConfigurationHandler is a http.Handler that serves the OIDC provider
// metadata document.
//
// It should be mounted at `<issuer>/.well-known/openid-configuration`.
type ConfigurationHandler struct {
	md *ProviderMetadata
}

// ConfigurationHandlerOpt is an option that can configure the handler.
type ConfigurationHandlerOpt func(h *ConfigurationHandler)

// WithProviderDefaults sets the metadata to match the flows the provider
// serves, for any member that is not otherwise set: the authorization code,
// implicit and refresh token grants, with client secrets sent by basic auth or
// in the form body.
func WithProviderDefaults() ConfigurationHandlerOpt {
	return func(h *ConfigurationHandler) {
		setDefault := func(v *[]string, d ...string) {
			if len(*v) == 0 {
				*v = d
			}
		}

		setDefault(&h.md.ResponseTypesSupported, "code", "id_token", "id_token token")
		setDefault(&h.md.ResponseModesSupported, "query", "fragment")
		setDefault(&h.md.GrantTypesSupported, "authorization_code", "implicit", "refresh_token")
		setDefault(&h.md.SubjectTypesSupported, "public")
		setDefault(&h.md.IDTokenSigningAlgValuesSupported, "RS256")
		setDefault(&h.md.TokenEndpointAuthMethodsSupported, "client_secret_basic", "client_secret_post")
		setDefault(&h.md.ClaimTypesSupported, "normal")
		if h.md.IntrospectionEndpoint != "" {
			setDefault(&h.md.IntrospectionEndpointAuthMethodsSupported, "client_secret_basic", "client_secret_post")
		}
	}
}

// NewConfigurationHandler configures and returns a ConfigurationHandler.
func NewConfigurationHandler(metadata *ProviderMetadata, opts ...ConfigurationHandlerOpt) (*ConfigurationHandler, error) {
	h := &ConfigurationHandler{
		md: metadata,
	}

	for _, o := range opts {
		o(h)
	}

	if err := h.md.validate(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *ConfigurationHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h.md); err != nil {
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
}
