// Package config loads and persists the installation settings shared by the
// updater and the application it maintains.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"

	appErrors "deltaup/internal/errors"
)

const (
	KeyProgramName = "program.name"
	KeyApplication = "program.application"
	KeyVersion     = "program.version"
	KeyInstallPath = "program.path"
	KeyPatchPath   = "program.patch_path"
	KeyIgnoreFiles = "program.ignore_files"
	KeyLogPath     = "program.log_path"
	KeyServerURL   = "server.url"
	KeyExitCode    = "update.exit_code"
)

const (
	// FileName is the settings file looked up from the working directory.
	FileName  = "deltaup.yaml"
	envPrefix = "DELTAUP"
)

// DefaultIgnore lists the entries always protected from full updates: the
// updater itself, its settings and its scratch and log locations.
var DefaultIgnore = []string{"version", "deltaup", "deltaup.exe", FileName, "tmp", "log", "update.log"}

// Installation is the resolved view of the settings an update run needs.
// Paths are absolute, resolved against the settings file directory.
type Installation struct {
	ProgramName string
	Application string
	Version     string
	Root        string
	StagingDir  string
	ServerURL   string
	LogPath     string
	Ignore      []string
	ExitCode    int
}

type storeSettings struct {
	workingDir string
	configPath string
}

// Option configures Open. Useful for tests to override paths.
type Option func(*storeSettings)

// WithWorkingDir overrides the directory used for settings file discovery.
func WithWorkingDir(dir string) Option {
	return func(cfg *storeSettings) {
		cfg.workingDir = dir
	}
}

// WithConfigFile explicitly sets the settings file instead of discovery.
func WithConfigFile(path string) Option {
	return func(cfg *storeSettings) {
		cfg.configPath = path
	}
}

// Store reads settings with the precedence
// defaults < settings file < environment variables < overrides,
// and writes single keys back to the settings file.
type Store struct {
	mu        sync.RWMutex
	path      string
	v         *viper.Viper
	overrides map[string]any
}

// Open locates the settings file and loads it. A missing file is not an
// error; Installation reports the keys that are then absent.
func Open(opts ...Option) (*Store, error) {
	settings := storeSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	path := strings.TrimSpace(settings.configPath)
	if path == "" {
		workingDir := strings.TrimSpace(settings.workingDir)
		if workingDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("determine working directory: %w", err)
			}
			workingDir = wd
		}
		found, err := findConfig(workingDir)
		if err != nil {
			return nil, err
		}
		if found == "" {
			found = filepath.Join(workingDir, FileName)
		}
		path = found
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	s := &Store{path: abs, overrides: map[string]any{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the settings file.
func (s *Store) Reload() error {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, s.path); err != nil {
		return appErrors.New(appErrors.CodeConfigurationError, fmt.Sprintf("load settings: %v", err), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, val := range s.overrides {
		v.Set(k, val)
	}
	s.v = v
	return nil
}

// ApplyOverrides injects values typically coming from CLI flags. Overrides
// survive reloads but are never written to the settings file.
func (s *Store) ApplyOverrides(overrides map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range overrides {
		s.overrides[k] = v
		s.v.Set(k, v)
	}
}

// GetString fetches a string value.
func (s *Store) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(key)
}

// GetInt fetches an integer value.
func (s *Store) GetInt(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetInt(key)
}

// IgnoreFiles returns the configured ignore names followed by DefaultIgnore.
// The key accepts a YAML list or a ':'-separated string.
func (s *Store) IgnoreFiles() []string {
	s.mu.RLock()
	raw := s.v.Get(KeyIgnoreFiles)
	s.mu.RUnlock()

	var names []string
	switch val := raw.(type) {
	case string:
		names = strings.Split(val, ":")
	case []string:
		names = val
	case []any:
		for _, item := range val {
			names = append(names, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(names)+len(DefaultIgnore))
	seen := map[string]struct{}{}
	all := append(append([]string{}, names...), DefaultIgnore...)
	for _, n := range all {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Set persists key to the settings file and reloads, so the next read
// observes the write.
func (s *Store) Set(key string, value any) error {
	// A fresh instance holds only what is in the file, keeping defaults,
	// environment and overrides out of it.
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return appErrors.New(appErrors.CodeConfigurationError, fmt.Sprintf("read settings: %v", err), err)
		}
	}
	v.Set(key, value)

	//nolint:gosec // G301: settings directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return appErrors.New(appErrors.CodeConfigurationError, fmt.Sprintf("create settings directory: %v", err), err)
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return appErrors.New(appErrors.CodeConfigurationError, fmt.Sprintf("write settings: %v", err), err)
	}
	return s.Reload()
}

// SetVersion records the installed version and checks that a fresh read
// returns it.
func (s *Store) SetVersion(version string) error {
	if err := s.Set(KeyVersion, version); err != nil {
		return err
	}
	if got := s.GetString(KeyVersion); got != version {
		return appErrors.New(appErrors.CodeConfigurationError,
			fmt.Sprintf("version not persisted: wrote %q, read back %q", version, got), nil)
	}
	return nil
}

// SetExitCode records the result code of the last run.
func (s *Store) SetExitCode(code int) error {
	return s.Set(KeyExitCode, code)
}

// Installation re-reads the settings file and resolves the installation.
func (s *Store) Installation() (Installation, error) {
	if err := s.Reload(); err != nil {
		return Installation{}, err
	}

	inst := Installation{
		ProgramName: strings.TrimSpace(s.GetString(KeyProgramName)),
		Application: strings.TrimSpace(s.GetString(KeyApplication)),
		Version:     strings.TrimSpace(s.GetString(KeyVersion)),
		ServerURL:   strings.TrimSpace(s.GetString(KeyServerURL)),
		Ignore:      s.IgnoreFiles(),
		ExitCode:    s.GetInt(KeyExitCode),
	}

	var missing []string
	for key, val := range map[string]string{
		KeyProgramName: inst.ProgramName,
		KeyVersion:     inst.Version,
		KeyServerURL:   inst.ServerURL,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Installation{}, appErrors.New(appErrors.CodeConfigurationError,
			fmt.Sprintf("%s: missing %s", s.path, strings.Join(missing, ", ")), nil)
	}

	base := filepath.Dir(s.path)
	inst.Root = s.resolve(base, KeyInstallPath)
	inst.StagingDir = s.resolve(base, KeyPatchPath)
	inst.LogPath = s.resolve(base, KeyLogPath)
	return inst, nil
}

func (s *Store) resolve(base, key string) string {
	p := strings.TrimSpace(s.GetString(key))
	p = filepath.FromSlash(strings.ReplaceAll(p, `\`, "/"))
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: loader intentionally reads the settings file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// findConfig walks up from startDir looking for the settings file.
func findConfig(startDir string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, FileName)
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyInstallPath, ".")
	v.SetDefault(KeyPatchPath, "./tmp")
	v.SetDefault(KeyLogPath, "./log/update.log")
	v.SetDefault(KeyApplication, "")
	v.SetDefault(KeyExitCode, 0)
}
