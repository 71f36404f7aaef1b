// Package browsertest serves a miniature copy of the intranet (login form, landing page and
// schedule page behind cookies + basic auth) for driver tests.
package browsertest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const (
	LoginPath    = "/intranet/Login/Index"
	LandingPath  = "/intranet/Home/Index"
	SchedulePath = "/ConsultaHorarioAlumno/default.aspx"

	AuthCookie   = ".ASPXAUTH"
	requestToken = "f3a9c1"
)

const loginTemplate = `<!DOCTYPE html>
<html><head><title>Intranet</title><script src="/scripts/login.js"></script></head>
<body>
<p class="error">%s</p>
<form id="login" action="%s" method="post">
	<input type="hidden" name="__RequestVerificationToken" value="%s">
	<input type="text" id="username" name="Username">
	<input type="password" id="password" name="Password">
	<input type="checkbox" name="Remember" value="true">
	<button type="submit" id="btnAceptar" name="btnAceptar" value="Aceptar">Aceptar</button>
</form>
</body></html>`

// ScheduleHTML is the schedule page served to authenticated users.
const ScheduleHTML = `<!DOCTYPE html>
<html><head><title>Horario</title><link rel="stylesheet" href="/styles/missing.css"></head>
<body><table>
	<tr class="orange"><td>LIS-1001</td><td>Cálculo I</td></tr>
	<tr><td>Sección: 01</td><td>Horario: L M V 08:00-09:00</td></tr>
	<tr class="orange"><td>FIS-1101</td><td>Física I</td></tr>
	<tr><td>Horario: Ma J 10:00-11:30</td></tr>
	<tr class="orange"><td>HUM-2000</td><td>Seminario</td></tr>
	<tr><td>Horario por definir</td></tr>
</table></body></html>`

// Portal is a running fake intranet.
type Portal struct {
	Server   *httptest.Server
	Username string
	Password string

	mu       sync.Mutex
	sessions map[string]bool
	logins   int
}

// NewPortal starts a fake intranet accepting a single username/password pair. tls selects
// httptest.NewTLSServer.
func NewPortal(tls bool, username, password string) *Portal {
	p := &Portal{
		Username: username,
		Password: password,
		sessions: map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+LoginPath, p.loginForm)
	mux.HandleFunc("POST "+LoginPath, p.login)
	mux.HandleFunc("GET "+LandingPath, p.landing)
	mux.HandleFunc("GET "+SchedulePath, p.schedule)
	mux.HandleFunc("GET /scripts/login.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/javascript")
		fmt.Fprint(w, "window.loaded = true;")
	})

	if tls {
		p.Server = httptest.NewTLSServer(mux)
	} else {
		p.Server = httptest.NewServer(mux)
	}
	return p
}

func (p *Portal) Close() {
	p.Server.Close()
}

// URL returns the address of path on the portal, host replaces the server's host
// (ex. "localhost") when it is non-empty.
func (p *Portal) URL(host, path string) string {
	base := p.Server.URL
	if host != "" {
		base = strings.Replace(base, "127.0.0.1", host, 1)
	}
	return base + path
}

// Logins counts successful logins.
func (p *Portal) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

// Expire forgets every session.
func (p *Portal) Expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = map[string]bool{}
}

func (p *Portal) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(AuthCookie)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[cookie.Value]
}

func (p *Portal) renderLogin(w http.ResponseWriter, message string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprintf(w, loginTemplate, message, LoginPath, requestToken)
}

func (p *Portal) loginForm(w http.ResponseWriter, r *http.Request) {
	p.renderLogin(w, "")
}

func (p *Portal) login(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("__RequestVerificationToken") != requestToken || r.PostForm.Get("btnAceptar") != "Aceptar" {
		http.Error(w, "bad request token", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("Username") != p.Username || r.PostForm.Get("Password") != p.Password {
		p.renderLogin(w, "Usuario o contraseña incorrectos")
		return
	}

	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	token := hex.EncodeToString(buf)

	p.mu.Lock()
	p.sessions[token] = true
	p.logins++
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: AuthCookie, Value: token, Path: "/", HttpOnly: true})
	http.Redirect(w, r, LandingPath, http.StatusFound)
}

func (p *Portal) landing(w http.ResponseWriter, r *http.Request) {
	if !p.authenticated(r) {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Bienvenido</h1></body></html>")
}

func (p *Portal) schedule(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok || username != p.Username || password != p.Password {
		w.Header().Set("WWW-Authenticate", `Basic realm="intranet"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !p.authenticated(r) {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprint(w, ScheduleHTML)
}
