package oidcserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "oidc-compliance"

	sessionKeyUsername = "username"
	sessionKeyIssuedAt = "issued_at"
	sessionKeyAuthTime = "auth_time"

	sessionKeyChallengedAt = "challenged_at"
)

// userSession is the signed in user, as held in the cookie session.
type userSession struct {
	Username string
	// IssuedAt is when the session cookie was last issued, and is what
	// max_age is checked against.
	IssuedAt time.Time
	// AuthTime is when the user last actively authenticated.
	AuthTime time.Time
}

// sessionManager keeps the user session in a cookie. Values are stored as
// strings and integers, so the default gob encoding works. issued_at is kept
// in nanoseconds as max_age is compared against it.
type sessionManager struct {
	store sessions.Store
}

// newCookieSessionManager returns a manager whose cookies are signed with
// authKey, and encrypted if encryptKey is not empty.
func newCookieSessionManager(authKey, encryptKey []byte, secure bool, path string) *sessionManager {
	var keys [][]byte
	if len(encryptKey) > 0 {
		keys = [][]byte{authKey, encryptKey}
	} else {
		keys = [][]byte{authKey}
	}
	cs := sessions.NewCookieStore(keys...)
	cs.Options = &sessions.Options{
		Path:     path,
		HttpOnly: true,
		Secure:   secure,
		MaxAge:   0,
	}
	return &sessionManager{store: cs}
}

// get returns the current user session, or nil if there is none. A session
// that can't be decoded, say after a key change, is treated as absent.
func (m *sessionManager) get(r *http.Request) *userSession {
	sess, err := m.store.Get(r, sessionName)
	if err != nil || sess.IsNew {
		return nil
	}
	username, _ := sess.Values[sessionKeyUsername].(string)
	issuedAt, _ := sess.Values[sessionKeyIssuedAt].(int64)
	authTime, _ := sess.Values[sessionKeyAuthTime].(int64)
	if username == "" || issuedAt == 0 {
		return nil
	}
	return &userSession{
		Username: username,
		IssuedAt: time.Unix(0, issuedAt),
		AuthTime: time.Unix(authTime, 0),
	}
}

// save writes the user session cookie to the response.
func (m *sessionManager) save(w http.ResponseWriter, r *http.Request, us *userSession) error {
	// a decode failure still returns a usable new session
	sess, _ := m.store.Get(r, sessionName)
	sess.Values[sessionKeyUsername] = us.Username
	sess.Values[sessionKeyIssuedAt] = us.IssuedAt.UnixNano()
	sess.Values[sessionKeyAuthTime] = us.AuthTime.Unix()
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// challengedAt returns when the user agent was last sent to sign in by the
// authorization endpoint, or nil.
func (m *sessionManager) challengedAt(r *http.Request) *time.Time {
	sess, err := m.store.Get(r, sessionName)
	if err != nil || sess.IsNew {
		return nil
	}
	ns, _ := sess.Values[sessionKeyChallengedAt].(int64)
	if ns == 0 {
		return nil
	}
	at := time.Unix(0, ns)
	return &at
}

// setChallengedAt records when the user agent was sent to sign in. The zero
// time removes the record. Any signed in user is kept.
func (m *sessionManager) setChallengedAt(w http.ResponseWriter, r *http.Request, at time.Time) error {
	sess, _ := m.store.Get(r, sessionName)
	if at.IsZero() {
		delete(sess.Values, sessionKeyChallengedAt)
	} else {
		sess.Values[sessionKeyChallengedAt] = at.UnixNano()
	}
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// clear removes the session cookie.
func (m *sessionManager) clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.Get(r, sessionName)
	sess.Values = map[interface{}]interface{}{}
	opts := *sess.Options
	opts.MaxAge = -1
	sess.Options = &opts
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
