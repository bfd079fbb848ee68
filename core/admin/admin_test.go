package admin

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

func newTestServer(password string) (*Server, *supervisor.Supervisor, *httptest.Server) {
	sup := supervisor.New(zerolog.Nop())
	audit := logrus.New()
	audit.SetOutput(io.Discard)
	s := New(Config{Password: password}, sup, audit)
	ts := httptest.NewServer(s.srv.Handler)
	return s, sup, ts
}

func TestStatusReturnsCurrentState(t *testing.T) {
	_, _, ts := newTestServer("")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if got := string(body); got != "status: running\n" {
		t.Fatalf("body = %q, want %q", got, "status: running\n")
	}
}

func TestSuspendRequiresCorrectPassword(t *testing.T) {
	_, sup, ts := newTestServer("secret")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/suspend?password=wrong", "", nil)
	if err != nil {
		t.Fatalf("POST /suspend: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if sup.State() != supervisor.StateRunning {
		t.Fatalf("State() = %v, want unchanged Running", sup.State())
	}

	resp2, err := http.Post(ts.URL+"/suspend?password=secret", "", nil)
	if err != nil {
		t.Fatalf("POST /suspend: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
	if sup.State() != supervisor.StateSuspended {
		t.Fatalf("State() = %v, want Suspended", sup.State())
	}
}

func TestCommandsDuringShutdownReturnConflict(t *testing.T) {
	_, sup, ts := newTestServer("")
	defer ts.Close()

	if err := sup.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	resp, err := http.Post(ts.URL+"/suspend", "", nil)
	if err != nil {
		t.Fatalf("POST /suspend: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestResumeFromRunningIsConflict(t *testing.T) {
	_, _, ts := newTestServer("")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/resume", "", nil)
	if err != nil {
		t.Fatalf("POST /resume: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (invalid transition surfaced as conflict)", resp.StatusCode)
	}
}
