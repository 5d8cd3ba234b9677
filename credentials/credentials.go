// Package credentials loads API keys and key file locations kept out of the
// main config file.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when credentials file has overly permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// FileName is the credentials file looked up in StandardPaths.
const FileName = "credentials.toml"

// Credentials holds secrets loaded from credentials.toml.
//
//	[llm]
//	api_key = "..."        # used by any provider without its own section
//
//	[openai]
//	api_key = "..."
//
//	[google_sheets]
//	keyfile = "service-account.json"
type Credentials struct {
	// LLM is the generic LLM API key (used when provider-specific key not found)
	LLM *ProviderCreds

	sections map[string]*ProviderCreds
}

// ProviderCreds holds the secrets of one section.
type ProviderCreds struct {
	APIKey  string `toml:"api_key"`
	Keyfile string `toml:"keyfile"`
}

// StandardPaths returns the standard credential file locations in order of priority
func StandardPaths() []string {
	paths := []string{FileName}

	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "vrc-l10n", FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".vrc-l10n", FileName))
	}

	return paths
}

// Load loads credentials from the first available standard location.
// A missing file is not an error; the returned Credentials is then nil and
// lookups fall back to environment variables.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil
}

// LoadFile loads credentials from a specific file.
// Returns ErrInsecurePermissions if file is readable by group or others.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		if mode&0077 != 0 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must not be accessible by group or others)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var raw map[string]ProviderCreds
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	creds := &Credentials{
		sections: make(map[string]*ProviderCreds, len(raw)),
	}
	for name, section := range raw {
		if section.APIKey == "" && section.Keyfile == "" {
			continue
		}
		section := section
		if name == "llm" {
			creds.LLM = &section
			continue
		}
		creds.sections[name] = &section
	}

	return creds, nil
}

// GetAPIKey returns the API key for a provider.
// Priority: [provider] section > [llm] section > environment variable
func (c *Credentials) GetAPIKey(provider string) string {
	if c != nil {
		if s := c.section(provider); s != nil && s.APIKey != "" {
			return s.APIKey
		}
		if c.LLM != nil && c.LLM.APIKey != "" {
			return c.LLM.APIKey
		}
	}
	return os.Getenv(EnvVarForProvider(provider))
}

// GetKeyfile returns the key file path of a section, falling back to the
// GOOGLE_APPLICATION_CREDENTIALS environment variable.
func (c *Credentials) GetKeyfile(section string) string {
	if c != nil {
		if s := c.section(section); s != nil && s.Keyfile != "" {
			return s.Keyfile
		}
	}
	return os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
}

// section looks a section up by exact name, then with dashes and
// underscores removed.
func (c *Credentials) section(name string) *ProviderCreds {
	if s, ok := c.sections[name]; ok {
		return s
	}
	normalized := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name))
	for key, s := range c.sections {
		if strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(key)) == normalized {
			return s
		}
	}
	return nil
}

// EnvVarForProvider returns the environment variable name for a provider.
func EnvVarForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai", "openai-compat":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	}
}
