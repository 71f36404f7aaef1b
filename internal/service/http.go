package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"horario-backend/internal/portal"
	"horario-backend/internal/schedule"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxBodyBytes = 1 << 20

	msgLoginOK         = "Login exitoso"
	msgBadBody         = "El cuerpo de la petición debe ser JSON"
	msgMissingFields   = "Faltan username o password"
	msgNotLoggedIn     = "Usuario no logueado, haz login primero"
	msgSessionExpired  = "La sesión expiró, haz login de nuevo"
	msgLivenessMessage = "Servidor de horarios UDLAP funcionando"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	User    string `json:"user"`
}

type scheduleResponse struct {
	Success bool             `json:"success"`
	Horario []schedule.Entry `json:"horario"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Router returns the HTTP handler:
//
//	GET  /                  liveness
//	POST /api/login         {username, password}
//	GET  /api/horario/{user}
func (s Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.index)
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Get("/horario/{user}", s.schedule)
	})
	return r
}

// requestLogger writes one slog record per request once the response is written.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			slog.Info(
				"http request",
				"id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s Service) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.tel.ReportBroken(report_service_encode, err)
	}
}

func (s Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: message})
}

func (s Service) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, msgLivenessMessage)
}

func (s Service) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, msgBadBody)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	err = s.api.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, portal.ErrMissingCredentials) {
		s.writeError(w, http.StatusBadRequest, msgMissingFields)
		return
	}
	if err != nil {
		s.tel.ReportWarning(report_service_login, req.Username, err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Message: msgLoginOK,
		User:    req.Username,
	})
}

func (s Service) schedule(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	entries, err := s.api.FetchSchedule(r.Context(), user)
	switch {
	case errors.Is(err, portal.ErrNotAuthenticated):
		s.writeError(w, http.StatusUnauthorized, msgNotLoggedIn)
		return
	case errors.Is(err, portal.ErrSessionExpired):
		s.writeError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	case err != nil:
		s.tel.ReportWarning(report_service_schedule, user, err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, scheduleResponse{
		Success: true,
		Horario: entries,
	})
}
