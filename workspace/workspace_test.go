package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSettings(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ATELIER_SETTINGS", path)
}

func TestNewExplicit(t *testing.T) {
	t.Setenv("ATELIER_SETTINGS", filepath.Join(t.TempDir(), "absent.toml"))

	w, err := New("ws1", "tok")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if w.ID != "ws1" || w.Token != "tok" {
		t.Errorf("ID, Token = %q, %q", w.ID, w.Token)
	}
	if w.ManagementEndpoint != DefaultManagementEndpoint {
		t.Errorf("ManagementEndpoint = %q, want default", w.ManagementEndpoint)
	}
	if w.APIEndpoint != DefaultAPIEndpoint {
		t.Errorf("APIEndpoint = %q, want default", w.APIEndpoint)
	}
}

func TestNewFromSettingsFile(t *testing.T) {
	writeSettings(t, `
[workspace]
id = "file-id"
authorization_token = "file-token"
management_endpoint = "https://mgmt.example"
api_endpoint = "https://api.example"
`)

	w, err := New("", "")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if w.ID != "file-id" || w.Token != "file-token" {
		t.Errorf("ID, Token = %q, %q", w.ID, w.Token)
	}
	if w.ManagementEndpoint != "https://mgmt.example" {
		t.Errorf("ManagementEndpoint = %q", w.ManagementEndpoint)
	}
	if w.APIEndpoint != "https://api.example" {
		t.Errorf("APIEndpoint = %q", w.APIEndpoint)
	}
}

func TestExplicitArgsWin(t *testing.T) {
	writeSettings(t, `
[workspace]
id = "file-id"
authorization_token = "file-token"
management_endpoint = "https://mgmt.example"
`)

	w, err := New("arg-id", "arg-token", WithManagementEndpoint("https://override.example"))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if w.ID != "arg-id" || w.Token != "arg-token" {
		t.Errorf("ID, Token = %q, %q", w.ID, w.Token)
	}
	if w.ManagementEndpoint != "https://override.example" {
		t.Errorf("ManagementEndpoint = %q", w.ManagementEndpoint)
	}
}

func TestNewIncomplete(t *testing.T) {
	t.Setenv("ATELIER_SETTINGS", filepath.Join(t.TempDir(), "absent.toml"))

	if _, err := New("ws1", ""); !errors.Is(err, ErrIncomplete) {
		t.Errorf("New error = %v, want ErrIncomplete", err)
	}
}

func TestMalformedSettings(t *testing.T) {
	writeSettings(t, `not [valid toml`)

	if _, err := New("", ""); err == nil {
		t.Error("New accepted a malformed settings file")
	}
}
