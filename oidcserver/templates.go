package oidcserver

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sort"
)

const signinTmpl = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Sign in</title>
</head>
<body>
  {{ if .Error }}<p class="error">{{ .Error }}</p>{{ end }}
  {{ if .Current }}
  <p>Signed in as {{ .Current }}.</p>
  <form method="post" action="{{ .SignoutURL }}">
    {{ .CSRFField }}
    <input type="hidden" name="returnUrl" value="{{ .ReturnURL }}">
    <button type="submit">Sign out</button>
  </form>
  {{ end }}
  <form method="post" action="{{ .SigninURL }}">
    {{ .CSRFField }}
    <input type="hidden" name="returnUrl" value="{{ .ReturnURL }}">
    <label for="username">Username</label>
    <input type="text" id="username" name="username" autofocus>
    <button type="submit">Sign in</button>
  </form>
  <p>Known users:{{ range .Users }} {{ . }}{{ end }}</p>
</body>
</html>
`

const errorTmpl = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{ .ErrType }}</title>
</head>
<body>
  <h2>{{ .ErrType }}</h2>
  <p>{{ .ErrMsg }}</p>
</body>
</html>
`

type templates struct {
	signinTmpl *template.Template
	errorTmpl  *template.Template
}

func loadTemplates() (*templates, error) {
	si, err := template.New("signin.html").Parse(signinTmpl)
	if err != nil {
		return nil, err
	}
	et, err := template.New("error.html").Parse(errorTmpl)
	if err != nil {
		return nil, err
	}
	return &templates{signinTmpl: si, errorTmpl: et}, nil
}

// signinPage is the data rendered on the sign in page.
type signinPage struct {
	SigninURL  string
	SignoutURL string
	ReturnURL  string
	CSRFField  template.HTML
	Users      []string
	// Current is the username of the signed in user, if any.
	Current string
	Error   string
}

func (t *templates) signin(w http.ResponseWriter, status int, data signinPage) error {
	sort.Strings(data.Users)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return renderTemplate(w, t.signinTmpl, data)
}

func (t *templates) err(w http.ResponseWriter, errCode int, errMsg string) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(errCode)
	data := struct {
		ErrType string
		ErrMsg  string
	}{http.StatusText(errCode), errMsg}
	if err := t.errorTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("Error rendering template %s: %s", t.errorTmpl.Name(), err)
	}
	return nil
}

// small io.Writer utility to determine if executing the template wrote to the underlying response writer.
type writeRecorder struct {
	wrote bool
	w     io.Writer
}

func (w *writeRecorder) Write(p []byte) (n int, err error) {
	w.wrote = true
	return w.w.Write(p)
}

func renderTemplate(w http.ResponseWriter, tmpl *template.Template, data interface{}) error {
	wr := &writeRecorder{w: w}
	if err := tmpl.Execute(wr, data); err != nil {
		if !wr.wrote {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return fmt.Errorf("Error rendering template %s: %s", tmpl.Name(), err)
	}
	return nil
}
