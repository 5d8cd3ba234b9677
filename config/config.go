// Package config loads the settings shared by every pipeline.
//
// The file format follows the extension: config.toml is decoded with
// BurntSushi/toml, config.yml and config.yaml with yaml.v3. Unknown keys are
// rejected in both. Durations are written as strings ("5s", "1m30s").
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kawashirov/vrc-localization-checker/credentials"
	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/llm"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/supervisor"
	"github.com/kawashirov/vrc-localization-checker/telemetry"
)

// DefaultPaths are tried in order by Find.
var DefaultPaths = []string{"config.toml", "config.yml", "config.yaml"}

// Config is the complete configuration.
type Config struct {
	Debug              bool           `toml:"debug" yaml:"debug"`
	LogFile            string         `toml:"log_file" yaml:"log_file"`
	DBPath             string         `toml:"db_path" yaml:"db_path"`
	LocalizationFolder string         `toml:"localization_folder" yaml:"localization_folder"`
	Gates              map[string]int `toml:"gates" yaml:"gates"`

	Supervisor SupervisorConfig `toml:"supervisor" yaml:"supervisor"`
	LLM        llm.Config       `toml:"llm" yaml:"llm"`
	Analyze    AnalyzeConfig    `toml:"analyze" yaml:"analyze"`
	Export     ExportConfig     `toml:"export" yaml:"export"`
	Telemetry  telemetry.Config `toml:"telemetry" yaml:"telemetry"`
}

// SupervisorConfig holds drain and exit hook timing.
type SupervisorConfig struct {
	DrainGrace  time.Duration `toml:"drain_grace" yaml:"drain_grace"`
	HookTimeout time.Duration `toml:"hook_timeout" yaml:"hook_timeout"`
}

// AnalyzeConfig selects which translation pairs get reviewed.
type AnalyzeConfig struct {
	SourceLang     string `toml:"source_lang" yaml:"source_lang"`
	TargetLang     string `toml:"target_lang" yaml:"target_lang"`
	BatchSize      int    `toml:"batch_size" yaml:"batch_size"`
	MinSuggestions int    `toml:"min_suggestions" yaml:"min_suggestions"`

	// IncludeExtra adds other languages' translations to each request.
	IncludeExtra bool `toml:"include_extra" yaml:"include_extra"`
}

// ExportConfig locates the spreadsheet suggestions are written to.
type ExportConfig struct {
	// Keyfile is a service account JSON key.
	Keyfile       string `toml:"keyfile" yaml:"keyfile"`
	SpreadsheetID string `toml:"spreadsheet_id" yaml:"spreadsheet_id"`

	// ModelID selects whose suggestions are exported. Default: llm.model.
	ModelID string `toml:"model_id" yaml:"model_id"`

	// Worksheet is the sheet title. Default: the model id.
	Worksheet string `toml:"worksheet" yaml:"worksheet"`
	StartCell string `toml:"start_cell" yaml:"start_cell"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Find returns the first of DefaultPaths that exists.
func Find() (string, error) {
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (tried %s)", strings.Join(DefaultPaths, ", "))
}

// Load reads, defaults and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = decodeTOML(data, cfg)
	case ".yml", ".yaml":
		err = decodeYAML(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// SetDefaults fills every unset value.
func (c *Config) SetDefaults() {
	if c.LogFile == "" {
		c.LogFile = filepath.Join("logs", "vrc-l10n.log")
	}
	if c.DBPath == "" {
		c.DBPath = "vrc-l10n.db"
	}
	if c.Supervisor.DrainGrace <= 0 {
		c.Supervisor.DrainGrace = 5 * time.Second
	}
	if c.Supervisor.HookTimeout <= 0 {
		c.Supervisor.HookTimeout = 10 * time.Second
	}

	if c.LLM.Provider == "" && c.LLM.Model != "" {
		c.LLM.Provider = llm.InferProviderFromModel(c.LLM.Model)
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}

	if c.Analyze.SourceLang == "" {
		c.Analyze.SourceLang = "en"
	}
	if c.Analyze.TargetLang == "" {
		c.Analyze.TargetLang = "ru"
	}
	if c.Analyze.BatchSize <= 0 {
		c.Analyze.BatchSize = 10
	}
	if c.Analyze.MinSuggestions <= 0 {
		c.Analyze.MinSuggestions = 1
	}

	if c.Export.ModelID == "" {
		c.Export.ModelID = c.LLM.Model
	}
	if c.Export.Worksheet == "" {
		c.Export.Worksheet = c.Export.ModelID
	}
	if c.Export.StartCell == "" {
		c.Export.StartCell = "B5"
	}

	c.Telemetry.Debug = c.Telemetry.Debug || c.Debug
}

// ApplyEnvOverrides applies VRC_L10N_* environment variables.
//
//   - VRC_L10N_DEBUG: overrides debug ("1" or "true")
//   - VRC_L10N_DB_PATH: overrides db_path
//   - VRC_L10N_LOCALIZATION_FOLDER: overrides localization_folder
//   - VRC_L10N_MODEL: overrides llm.model
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("VRC_L10N_DEBUG"); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("VRC_L10N_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("VRC_L10N_LOCALIZATION_FOLDER"); v != "" {
		c.LocalizationFolder = v
	}
	if v := os.Getenv("VRC_L10N_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

// ResolveCredentials fills secrets the config file left empty.
func (c *Config) ResolveCredentials(creds *credentials.Credentials) {
	if c.LLM.APIKey == "" && c.LLM.Provider != "" {
		c.LLM.APIKey = creds.GetAPIKey(c.LLM.Provider)
	}
	if c.Export.Keyfile == "" {
		c.Export.Keyfile = creds.GetKeyfile("google_sheets")
	}
}

// LogLevel is DEBUG when debug is set, INFO otherwise.
func (c *Config) LogLevel() logging.Level {
	if c.Debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

// SupervisorConfig converts the relevant sections for supervisor.New.
func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		DrainGrace:  c.Supervisor.DrainGrace,
		HookTimeout: c.Supervisor.HookTimeout,
		Gates:       c.Gates,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	langPattern = regexp.MustCompile(`^[a-zA-Z_-]+$`)
	cellPattern = regexp.MustCompile(`^[A-Z]+[1-9][0-9]*$`)
)

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.DBPath == "" {
		errs = append(errs, ValidationError{"db_path", "must not be empty"})
	}

	names := make([]string, 0, len(c.Gates))
	for name := range c.Gates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, known := gate.DefaultCapacities[name]; !known {
			errs = append(errs, ValidationError{"gates." + name, "unknown resource class"})
		}
		if c.Gates[name] < 1 {
			errs = append(errs, ValidationError{"gates." + name, fmt.Sprintf("capacity must be at least 1, got %d", c.Gates[name])})
		}
	}

	if !langPattern.MatchString(c.Analyze.SourceLang) {
		errs = append(errs, ValidationError{"analyze.source_lang", fmt.Sprintf("invalid language code %q", c.Analyze.SourceLang)})
	}
	if !langPattern.MatchString(c.Analyze.TargetLang) {
		errs = append(errs, ValidationError{"analyze.target_lang", fmt.Sprintf("invalid language code %q", c.Analyze.TargetLang)})
	}
	if c.Analyze.SourceLang == c.Analyze.TargetLang {
		errs = append(errs, ValidationError{"analyze.target_lang", "must differ from source_lang"})
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{"llm.requests_per_minute", "must not be negative"})
	}
	if !cellPattern.MatchString(c.Export.StartCell) {
		errs = append(errs, ValidationError{"export.start_cell", fmt.Sprintf("invalid A1 cell %q", c.Export.StartCell)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateFor checks the settings a specific command needs on top of Validate.
func (c *Config) ValidateFor(command string) error {
	var errs ValidateErrors
	if err := c.Validate(); err != nil {
		errs = append(errs, err.(ValidateErrors)...)
	}

	switch command {
	case "sync":
	case "analyze":
		if err := c.LLM.Validate(); err != nil {
			errs = append(errs, ValidationError{"llm", err.Error()})
		}
	case "export":
		if c.Export.Keyfile == "" {
			errs = append(errs, ValidationError{"export.keyfile", "must not be empty"})
		}
		if c.Export.SpreadsheetID == "" {
			errs = append(errs, ValidationError{"export.spreadsheet_id", "must not be empty"})
		}
		if c.Export.ModelID == "" {
			errs = append(errs, ValidationError{"export.model_id", "must not be empty (or set llm.model)"})
		}
	default:
		errs = append(errs, ValidationError{"command", fmt.Sprintf("unknown command %q", command)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
