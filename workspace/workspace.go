// Package workspace holds the connection identity for a remote workspace:
// its id, authorization token, and the endpoints for management and
// function execution. Values not supplied explicitly are read from the
// settings file at ~/.atelier/settings.toml.
package workspace

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Compiled-in endpoints, used when neither the caller nor the settings
// file overrides them.
const (
	DefaultManagementEndpoint = "https://management.atelier-ml.net"
	DefaultAPIEndpoint        = "https://api.atelier-ml.net"
)

// ErrIncomplete reports a workspace missing its id or token after the
// settings file has been consulted.
var ErrIncomplete = errors.New("workspace: id and token are required")

// Workspace identifies a remote workspace and how to reach it.
type Workspace struct {
	ID    string
	Token string

	// ManagementEndpoint serves publish and metadata requests.
	ManagementEndpoint string

	// APIEndpoint is the execution host. Published services report their
	// own invocation URLs, so this is only consulted when a service
	// record omits one.
	APIEndpoint string

	// HTTP overrides the client used for all requests. Nil means
	// http.DefaultClient.
	HTTP *http.Client
}

// Option adjusts workspace construction.
type Option func(*Workspace)

// WithManagementEndpoint overrides the management API base URL.
func WithManagementEndpoint(url string) Option {
	return func(w *Workspace) { w.ManagementEndpoint = url }
}

// WithAPIEndpoint overrides the execution host.
func WithAPIEndpoint(url string) Option {
	return func(w *Workspace) { w.APIEndpoint = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Workspace) { w.HTTP = c }
}

// New builds a workspace. Empty id or token fall back to the settings
// file; if they are still empty afterwards New fails with ErrIncomplete.
func New(id, token string, opts ...Option) (*Workspace, error) {
	w := &Workspace{ID: id, Token: token}
	for _, opt := range opts {
		opt(w)
	}

	if w.ID == "" || w.Token == "" || w.ManagementEndpoint == "" || w.APIEndpoint == "" {
		s, err := loadSettings(settingsPath())
		if err != nil {
			return nil, err
		}
		if w.ID == "" {
			w.ID = s.Workspace.ID
		}
		if w.Token == "" {
			w.Token = s.Workspace.Token
		}
		if w.ManagementEndpoint == "" {
			w.ManagementEndpoint = s.Workspace.ManagementEndpoint
		}
		if w.APIEndpoint == "" {
			w.APIEndpoint = s.Workspace.APIEndpoint
		}
	}
	if w.ManagementEndpoint == "" {
		w.ManagementEndpoint = DefaultManagementEndpoint
	}
	if w.APIEndpoint == "" {
		w.APIEndpoint = DefaultAPIEndpoint
	}
	if w.ID == "" || w.Token == "" {
		return nil, ErrIncomplete
	}
	return w, nil
}

// settings is the on-disk shape:
//
//	[workspace]
//	id = "..."
//	authorization_token = "..."
//	api_endpoint = "..."
//	management_endpoint = "..."
type settings struct {
	Workspace struct {
		ID                 string `toml:"id"`
		Token              string `toml:"authorization_token"`
		APIEndpoint        string `toml:"api_endpoint"`
		ManagementEndpoint string `toml:"management_endpoint"`
	} `toml:"workspace"`
}

func settingsPath() string {
	if p := os.Getenv("ATELIER_SETTINGS"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".atelier", "settings.toml")
}

func loadSettings(path string) (*settings, error) {
	var s settings
	if path == "" {
		return &s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &s, nil
	}
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("workspace: read settings %s: %w", path, err)
	}
	return &s, nil
}
