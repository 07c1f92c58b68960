package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	appErrors "deltaup/internal/errors"
)

const sampleSettings = `
program:
  name: app
  application: app.exe
  version: "1.1"
  path: .
  patch_path: ./tmp
  ignore_files: update.exe:user.dat
  log_path: ./log/update.log
server:
  url: http://localhost:1024/demoapp/
update:
  exit_code: 0
`

func TestInstallationResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), sampleSettings)

	s, err := Open(WithWorkingDir(dir))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	inst, err := s.Installation()
	if err != nil {
		t.Fatalf("Installation returned error: %v", err)
	}

	want := Installation{
		ProgramName: "app",
		Application: "app.exe",
		Version:     "1.1",
		Root:        dir,
		StagingDir:  filepath.Join(dir, "tmp"),
		ServerURL:   "http://localhost:1024/demoapp/",
		LogPath:     filepath.Join(dir, "log", "update.log"),
		Ignore:      append([]string{"update.exe", "user.dat"}, DefaultIgnore...),
	}
	if diff := cmp.Diff(want, inst); diff != "" {
		t.Fatalf("installation mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenDiscoversFileInParent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), sampleSettings)
	nested := filepath.Join(dir, "bin", "x64")
	mustMkdir(t, nested)

	s, err := Open(WithWorkingDir(nested))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if s.Path() != filepath.Join(dir, FileName) {
		t.Fatalf("expected discovered path, got %s", s.Path())
	}
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
program:
  name: app
  version: "1.0"
server:
  url: http://example.test/
`)
	s, err := Open(WithConfigFile(filepath.Join(dir, FileName)))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	inst, err := s.Installation()
	if err != nil {
		t.Fatalf("Installation returned error: %v", err)
	}
	if inst.Root != dir {
		t.Errorf("Root = %s, want %s", inst.Root, dir)
	}
	if inst.StagingDir != filepath.Join(dir, "tmp") {
		t.Errorf("StagingDir = %s", inst.StagingDir)
	}
	if diff := cmp.Diff(DefaultIgnore, inst.Ignore); diff != "" {
		t.Errorf("ignore mismatch (-want +got):\n%s", diff)
	}
}

func TestIgnoreFilesAcceptsList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
program:
  ignore_files:
    - data
    - tmp
`)
	s, err := Open(WithWorkingDir(dir))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	got := s.IgnoreFiles()
	if got[0] != "data" || len(got) != len(DefaultIgnore)+1 {
		t.Fatalf("unexpected ignore list %v", got)
	}
}

func TestInstallationReportsMissingKeys(t *testing.T) {
	s, err := Open(WithWorkingDir(t.TempDir()))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	_, err = s.Installation()
	if !appErrors.IsCode(err, appErrors.CodeConfigurationError) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	for _, key := range []string{KeyProgramName, KeyServerURL, KeyVersion} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should name %s: %v", key, err)
		}
	}
}

func TestSetVersionReadAfterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	writeFile(t, path, sampleSettings)

	s, err := Open(WithConfigFile(path))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := s.SetVersion("2.0"); err != nil {
		t.Fatalf("SetVersion returned error: %v", err)
	}
	if err := s.SetExitCode(3); err != nil {
		t.Fatalf("SetExitCode returned error: %v", err)
	}

	// A separate store sees the write, and untouched keys survive.
	other, err := Open(WithConfigFile(path))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	inst, err := other.Installation()
	if err != nil {
		t.Fatalf("Installation returned error: %v", err)
	}
	if inst.Version != "2.0" || inst.ExitCode != 3 {
		t.Fatalf("expected version 2.0 and exit code 3, got %q and %d", inst.Version, inst.ExitCode)
	}
	if inst.ServerURL != "http://localhost:1024/demoapp/" || inst.Application != "app.exe" {
		t.Fatalf("other keys lost: %+v", inst)
	}
}

func TestSetCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", FileName)
	s, err := Open(WithConfigFile(path))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := s.Set(KeyProgramName, "app"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file not written: %v", err)
	}
	if got := s.GetString(KeyProgramName); got != "app" {
		t.Fatalf("expected app, got %q", got)
	}
}

func TestEnvironmentAndOverridesPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), sampleSettings)

	t.Setenv("DELTAUP_SERVER_URL", "http://env.test/")

	s, err := Open(WithWorkingDir(dir))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if got := s.GetString(KeyServerURL); got != "http://env.test/" {
		t.Fatalf("expected env override for %s, got %q", KeyServerURL, got)
	}

	s.ApplyOverrides(map[string]any{KeyServerURL: "http://flag.test/"})
	if got := s.GetString(KeyServerURL); got != "http://flag.test/" {
		t.Fatalf("expected CLI override, got %q", got)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload returned error: %v", err)
	}
	if got := s.GetString(KeyServerURL); got != "http://flag.test/" {
		t.Fatalf("override lost on reload, got %q", got)
	}

	// Overrides never reach the file.
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "flag.test") {
		t.Fatalf("override written to settings file")
	}
}

func TestMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "program: [unclosed")
	_, err := Open(WithWorkingDir(dir))
	if !appErrors.IsCode(err, appErrors.CodeConfigurationError) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	mustMkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}
