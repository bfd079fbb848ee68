// Package admin implements the bearerbox admin HTTP interface (C10): a
// small net/http server exposing supervisor lifecycle commands, audited
// independently of the operational log.
package admin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Config configures the admin server. A PasswordHash, if set, takes
// precedence over Password: it holds a bcrypt hash (as produced by
// golang.org/x/crypto/bcrypt.GenerateFromPassword), so the plaintext
// admin password never needs to sit in the configuration file at rest.
// Password, when PasswordHash is empty, is compared in constant time.
type Config struct {
	Addr         string // e.g. ":13000"
	Password     string // empty means no password check, unless PasswordHash is set
	PasswordHash string // bcrypt hash; takes precedence over Password
}

// Server is the admin HTTP server. Every request is audit-logged via its
// own logrus.Logger, independent of the structured operational log, so an
// audit trail of who-did-what-when survives even when the operational log
// is rotated away or shipped elsewhere.
type Server struct {
	cfg   Config
	sup   *supervisor.Supervisor
	audit *logrus.Logger
	srv   *http.Server
}

// New returns a Server ready to ListenAndServe.
func New(cfg Config, sup *supervisor.Supervisor, audit *logrus.Logger) *Server {
	s := &Server{cfg: cfg, sup: sup, audit: audit}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/suspend", s.handleCommand("suspend", sup.Suspend))
	mux.HandleFunc("/isolate", s.handleCommand("isolate", sup.Isolate))
	mux.HandleFunc("/resume", s.handleCommand("resume", sup.Resume))
	mux.HandleFunc("/shutdown", s.handleCommand("shutdown", sup.Shutdown))
	s.srv = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving admin requests until the server is shut
// down via Close or the listener errors.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close gracefully shuts down the HTTP listener.
func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) checkPassword(r *http.Request) bool {
	supplied := r.URL.Query().Get("password")
	if s.cfg.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(supplied)) == nil
	}
	if s.cfg.Password == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.Password)) == 1
}

func (s *Server) auditLog(r *http.Request, command string, accepted bool, outcome string) {
	s.audit.WithFields(logrus.Fields{
		"command":     command,
		"remote_addr": r.RemoteAddr,
		"password_ok": accepted,
		"outcome":     outcome,
	}).Info("admin command")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkPassword(r) {
		s.auditLog(r, "status", false, "forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.auditLog(r, "status", true, "ok")
	fmt.Fprintf(w, "status: %s\n", s.sup.State())
}

func (s *Server) handleCommand(name string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkPassword(r) {
			s.auditLog(r, name, false, "forbidden")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		switch s.sup.State() {
		case supervisor.StateShutdown, supervisor.StateDead:
			s.auditLog(r, name, true, "conflict")
			http.Error(w, "supervisor is shutting down", http.StatusConflict)
			return
		}
		if err := fn(); err != nil {
			s.auditLog(r, name, true, "conflict: "+err.Error())
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.auditLog(r, name, true, "ok")
		fmt.Fprintf(w, "%s: ok\n", name)
	}
}
