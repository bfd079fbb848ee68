package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bearerbox.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validConfig = `
[core]
smsbox-port = 13001
admin-port = 13000
admin-password = "s3cret"
heartbeat-freq = "30s"

[[smsc]]
dialect = "fake"
host = "127.0.0.1"
port = 9000
smsc-id = "A"
preferred-prefix = "555"

[[smsc]]
dialect = "fake"
host = "127.0.0.1"
port = 9001
smsc-id = "B"

[smsbox]
allow-ip = ["127.0.0.1"]
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.AdminPort != 13000 {
		t.Fatalf("AdminPort = %d, want 13000", cfg.Core.AdminPort)
	}
	if len(cfg.Smsc) != 2 || cfg.Smsc[0].SmscID != "A" || cfg.Smsc[1].SmscID != "B" {
		t.Fatalf("Smsc = %+v, want two entries A, B", cfg.Smsc)
	}
	d, err := cfg.Core.HeartbeatFreqDuration()
	if err != nil || d.Seconds() != 30 {
		t.Fatalf("HeartbeatFreqDuration() = (%v, %v), want 30s", d, err)
	}
}

func TestLoadRejectsMissingCoreTable(t *testing.T) {
	path := writeTempConfig(t, `[[smsc]]
dialect = "fake"
smsc-id = "A"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing [core] table")
	}
}

func TestLoadRejectsSmsBoxPortWithoutTable(t *testing.T) {
	path := writeTempConfig(t, `
[core]
smsbox-port = 13001
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when smsbox-port is set without an [smsbox] table")
	}
}

func TestLoadRejectsSmscMissingID(t *testing.T) {
	path := writeTempConfig(t, `
[core]
admin-port = 13000

[[smsc]]
dialect = "fake"
host = "127.0.0.1"
port = 9000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an [[smsc]] entry missing smsc-id")
	}
}

func TestLoadRejectsBadHeartbeatFreq(t *testing.T) {
	path := writeTempConfig(t, `
[core]
admin-port = 13000
heartbeat-freq = "not-a-duration"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unparseable heartbeat-freq")
	}
}
