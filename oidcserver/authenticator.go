package oidcserver

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/csrf"
)

// handleSignin shows the demo sign in form, and signs the user in when it is
// posted back. There are no passwords, any known username is accepted.
func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Failed to parse request.")
		return
	}
	returnURL := r.Form.Get("returnUrl")
	if returnURL != "" && !isLocalURL(returnURL) {
		s.logger.WithField("returnUrl", returnURL).Warn("rejecting non-local return URL")
		s.renderError(w, http.StatusBadRequest, "The return URL must be local.")
		return
	}

	if r.Method == http.MethodGet {
		s.renderSignin(w, r, http.StatusOK, returnURL, "")
		return
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	if _, ok := s.users.LookupUser(username); !ok {
		s.logger.WithField("username", username).Info("sign in for unknown user")
		s.renderSignin(w, r, http.StatusUnauthorized, returnURL, "Unknown user.")
		return
	}

	now := s.now()
	if err := s.sessions.save(w, r, &userSession{
		Username: username,
		IssuedAt: now,
		AuthTime: now,
	}); err != nil {
		s.logger.WithError(err).Error("failed to save session")
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	s.logger.WithField("username", username).Info("login successful")

	if returnURL == "" {
		returnURL = s.absPath(s.paths.Signin)
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}

// handleSignout removes the user session.
func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	returnURL := r.PostFormValue("returnUrl")
	if returnURL == "" || !isLocalURL(returnURL) {
		returnURL = s.absPath(s.paths.Signin)
	}

	if err := s.sessions.clear(w, r); err != nil {
		s.logger.WithError(err).Error("failed to clear session")
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	http.Redirect(w, r, returnURL, http.StatusFound)
}

func (s *Server) renderSignin(w http.ResponseWriter, r *http.Request, status int, returnURL, errMsg string) {
	page := signinPage{
		SigninURL:  s.absPath(s.paths.Signin),
		SignoutURL: s.absPath(s.paths.Signout),
		ReturnURL:  returnURL,
		CSRFField:  csrf.TemplateField(r),
		Error:      errMsg,
	}
	if ul, ok := s.users.(UserLister); ok {
		page.Users = ul.Usernames()
	}
	if us := s.sessions.get(r); us != nil {
		page.Current = us.Username
	}
	if err := s.templates.signin(w, status, page); err != nil {
		s.logger.WithError(err).Error("server template error")
	}
}

// isLocalURL returns true if u is a path on this host. Scheme relative URLs
// like //evil.com are not local.
func isLocalURL(u string) bool {
	if !strings.HasPrefix(u, "/") || strings.HasPrefix(u, "//") || strings.HasPrefix(u, "/\\") {
		return false
	}
	pu, err := url.Parse(u)
	return err == nil && pu.Scheme == "" && pu.Host == ""
}
