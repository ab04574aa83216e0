package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gopkg.in/square/go-jose.v2"
)

// KeySource is used to retrieve the public keys this provider is signing with
type KeySource interface {
	// PublicKeys should return the current signing key set
	PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// KeysHandler is a http.Handler that serves the jwks_uri endpoint from a
// KeySource.
type KeysHandler struct {
	ks       KeySource
	cacheFor time.Duration
	now      func() time.Time

	currKeys   *jose.JSONWebKeySet
	currKeysMu sync.Mutex

	lastKeysUpdate time.Time
}

// NewKeysHandler returns a KeysHandler configured to serve the keys from
// KeySource. Key lookups are cached for the cacheFor duration, and clients are
// told they may cache the response for as long.
func NewKeysHandler(s KeySource, cacheFor time.Duration) *KeysHandler {
	return &KeysHandler{
		ks:       s,
		cacheFor: cacheFor,
		now:      time.Now,
	}
}

func (h *KeysHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.currKeysMu.Lock()
	defer h.currKeysMu.Unlock()

	if h.currKeys == nil || h.now().After(h.lastKeysUpdate.Add(h.cacheFor)) {
		ks, err := h.ks.PublicKeys(req.Context())
		if err != nil {
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		h.currKeys = ks
		h.lastKeysUpdate = h.now()
	}

	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d, must-revalidate", int(h.cacheFor.Seconds())))

	if err := json.NewEncoder(w).Encode(h.currKeys); err != nil {
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
}
