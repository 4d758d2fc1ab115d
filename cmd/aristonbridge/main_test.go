package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/ariston-bridge/internal/auth"
	"github.com/nerrad567/ariston-bridge/internal/infrastructure/config"
)

const testSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a config with MQTT, InfluxDB and the API disabled so
// run needs no external services.
func writeConfig(t *testing.T, baseURL, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
bridge:
  id: test-boiler

ariston:
  username: "user@example.com"
  password: "hunter2"
  base_url: "` + baseURL + `"
  period_get: 30
  request_timeout: 2

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

security:
  jwt:
    secret: "` + testSecret + `"
    access_token_ttl: 30
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestExecute_Version(t *testing.T) {
	var out bytes.Buffer
	if err := execute(context.Background(), []string{"-version"}, &out); err != nil {
		t.Fatalf("execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "aristonbridge dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExecute_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	if err := execute(context.Background(), []string{"-bogus"}, &out); err == nil {
		t.Error("execute() should reject unknown flags")
	}
}

func TestExecute_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := execute(ctx, []string{"-config", "/nonexistent/path/config.yaml"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("execute() should fail with invalid config path")
	}
}

func TestExecute_MintToken(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, "http://127.0.0.1:1", filepath.Join(dir, "test.db"))

	var out bytes.Buffer
	if err := execute(context.Background(), []string{"-config", cfgPath, "-mint-token", "dashboard:viewer"}, &out); err != nil {
		t.Fatalf("execute() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "dashboard" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %+v", claims)
	}
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != 30*time.Minute {
		t.Errorf("token ttl = %v, want 30m", ttl)
	}
}

func TestIssueToken_Errors(t *testing.T) {
	withSecret := &config.Config{Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}}

	tests := []struct {
		name string
		cfg  *config.Config
		spec string
	}{
		{"no secret", &config.Config{}, "a:viewer"},
		{"missing role separator", withSecret, "dashboard"},
		{"empty subject", withSecret, ":admin"},
		{"unknown role", withSecret, "dashboard:root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issueToken(tt.cfg, tt.spec); err == nil {
				t.Errorf("issueToken(%q) should fail", tt.spec)
			}
		})
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("ARISTON_BRIDGE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("ARISTON_BRIDGE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_StartupAndShutdown runs the whole bridge against a remote service
// that rejects the login. The engine keeps running without a session and the
// process shuts down cleanly when the context ends.
func TestRun_StartupAndShutdown(t *testing.T) {
	var logins atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/R2/Account/Login" {
			logins.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer remote.Close()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "ariston.db")
	cfgPath := writeConfig(t, remote.URL, dbPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
	if logins.Load() == 0 {
		t.Error("expected at least one login attempt")
	}
}

func TestRun_InvalidDatabasePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}
	// A regular file cannot be a parent directory.
	cfgPath := writeConfig(t, "http://127.0.0.1:1", filepath.Join(blocker, "ariston.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, cfgPath); err == nil {
		t.Fatal("run() should fail when the database cannot be created")
	}
}
