package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"deltaup/internal/config"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = execute(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

var (
	releaseOne = map[string]string{
		"app.exe":      strings.Repeat("release one body ", 300),
		"lib/core.dll": "core",
	}
	releaseTwo = map[string]string{
		"app.exe":       strings.Repeat("release two body ", 300),
		"lib/core.dll":  "core",
		"docs/new.txt":  "new docs",
		"deltaup.yaml":  "never shipped",
		"lib/extra.dll": "extra",
	}
)

// buildRelease publishes app<version> built from releaseOne to releaseTwo
// into serverRoot.
func buildRelease(t *testing.T, serverRoot, version string) {
	t.Helper()
	work := t.TempDir()
	oldDir := filepath.Join(work, "old")
	newDir := filepath.Join(work, "new")
	writeTree(t, oldDir, releaseOne)
	writeTree(t, newDir, releaseTwo)

	code, _, stderr := run(t, "build", oldDir, newDir,
		"--name", "app", "--version", version, "--out", serverRoot,
		"--description", "## Fixes\n\n- faster startup")
	if code != 0 {
		t.Fatalf("build exit code %d: %s", code, stderr)
	}
}

func writeSettings(t *testing.T, dir, serverURL, application string) string {
	t.Helper()
	path := filepath.Join(dir, config.FileName)
	writeTree(t, dir, map[string]string{config.FileName: `program:
  name: app
  application: ` + application + `
  version: "1.0"
server:
  url: ` + serverURL + `/
`})
	return path
}

func TestBuildAndInspect(t *testing.T) {
	serverRoot := t.TempDir()
	buildRelease(t, serverRoot, "1.1")

	archive := filepath.Join(serverRoot, "app1.1", "app1.1.zip")
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("archive not published: %v", err)
	}

	code, stdout, stderr := run(t, "inspect", archive, "--style", "plain", "--verify")
	if code != 0 {
		t.Fatalf("inspect exit code %d: %s", code, stderr)
	}
	for _, want := range []string{
		"version 1.1",
		"incremental",
		"faster startup",
		"patch ./app.exe",
		"copy  ./docs",
		"copy  ./lib/extra.dll",
		"all entries verified",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("inspect output missing %q:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "deltaup.yaml") {
		t.Errorf("settings file must not be packaged:\n%s", stdout)
	}
}

func TestBuildRejectsInvalidVersion(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := run(t, "build", dir, dir, "--name", "app", "--version", "1.x", "--out", dir)
	if code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
	if !strings.Contains(stderr, "1.x") {
		t.Errorf("error should name the version: %s", stderr)
	}
}

func TestBuildRequiresName(t *testing.T) {
	dir := t.TempDir()
	if code, _, _ := run(t, "build", dir, dir, "--version", "1.0"); code == 0 {
		t.Error("expected failure without --name")
	}
}

func TestUpdateEndToEnd(t *testing.T) {
	serverRoot := t.TempDir()
	buildRelease(t, serverRoot, "1.1")
	server := httptest.NewServer(http.FileServer(http.Dir(serverRoot)))
	defer server.Close()

	install := t.TempDir()
	writeTree(t, install, releaseOne)
	cfgPath := writeSettings(t, install, server.URL, "app.exe")

	code, stdout, stderr := run(t, "--config", cfgPath, "versions")
	if code != 0 {
		t.Fatalf("versions exit code %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "* 1.1") || !strings.Contains(stdout, "1 pending") {
		t.Errorf("versions output:\n%s", stdout)
	}

	code, stdout, stderr = run(t, "--config", cfgPath, "update", "--plain", "--no-stop")
	if code != 0 {
		t.Fatalf("update exit code %d: %s\n%s", code, stderr, stdout)
	}
	for _, want := range []string{"fetching package 1.1", "download 100%", "update finished", "updated"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("update output missing %q:\n%s", want, stdout)
		}
	}

	for rel, want := range map[string]string{
		"app.exe":       releaseTwo["app.exe"],
		"docs/new.txt":  "new docs",
		"lib/extra.dll": "extra",
	} {
		got, err := os.ReadFile(filepath.Join(install, filepath.FromSlash(rel)))
		if err != nil || string(got) != want {
			t.Errorf("%s not updated (err=%v)", rel, err)
		}
	}

	store, err := config.Open(config.WithConfigFile(cfgPath))
	if err != nil {
		t.Fatalf("config.Open() error: %v", err)
	}
	inst, err := store.Installation()
	if err != nil {
		t.Fatalf("Installation() error: %v", err)
	}
	if inst.Version != "1.1" || inst.ExitCode != 0 {
		t.Errorf("settings after update: version %q exit code %d", inst.Version, inst.ExitCode)
	}
	logData, err := os.ReadFile(inst.LogPath)
	if err != nil || !strings.Contains(string(logData), "version 1.1 updated") {
		t.Errorf("update log missing entry (err=%v):\n%s", err, logData)
	}

	code, stdout, _ = run(t, "--config", cfgPath, "history")
	if code != 0 || !strings.Contains(stdout, "1.1") || !strings.Contains(stdout, "applied") {
		t.Errorf("history exit code %d output:\n%s", code, stdout)
	}

	code, stdout, _ = run(t, "--config", cfgPath, "update", "--plain", "--no-stop")
	if code != 0 || !strings.Contains(stdout, "up to date") {
		t.Errorf("second update exit code %d output:\n%s", code, stdout)
	}
}

func TestUpdateFetchFailureExitCode(t *testing.T) {
	serverRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(serverRoot, "app2.0"), 0o755); err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.FileServer(http.Dir(serverRoot)))
	defer server.Close()

	install := t.TempDir()
	cfgPath := writeSettings(t, install, server.URL, "app.exe")

	code, _, stderr := run(t, "--config", cfgPath, "update", "--plain", "--no-stop")
	if code != 3 {
		t.Fatalf("exit code = %d, want 3 (%s)", code, stderr)
	}
	store, err := config.Open(config.WithConfigFile(cfgPath))
	if err != nil {
		t.Fatal(err)
	}
	if got := store.GetInt(config.KeyExitCode); got != 3 {
		t.Errorf("recorded exit code = %d, want 3", got)
	}
}

func TestUpdateDiscoveryFailureExitCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	cfgPath := writeSettings(t, t.TempDir(), server.URL, "app.exe")
	if code, _, _ := run(t, "--config", cfgPath, "update", "--plain", "--no-stop"); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestUpdateLaunchMissingApplication(t *testing.T) {
	serverRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(serverRoot, "app1.0"), 0o755); err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.FileServer(http.Dir(serverRoot)))
	defer server.Close()

	cfgPath := writeSettings(t, t.TempDir(), server.URL, "missing.exe")
	code, _, stderr := run(t, "--config", cfgPath, "update", "--plain", "--no-stop", "--launch")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1 (%s)", code, stderr)
	}
	if !strings.Contains(stderr, "missing.exe") {
		t.Errorf("error should name the application: %s", stderr)
	}
	store, err := config.Open(config.WithConfigFile(cfgPath))
	if err != nil {
		t.Fatal(err)
	}
	if got := store.GetInt(config.KeyExitCode); got != 1 {
		t.Errorf("recorded exit code = %d, want 1", got)
	}
}

func TestUpdateMissingSettings(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), config.FileName)
	writeTree(t, filepath.Dir(cfgPath), map[string]string{config.FileName: "program:\n  name: app\n"})
	code, _, stderr := run(t, "--config", cfgPath, "update", "--plain")
	if code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
	if !strings.Contains(stderr, config.KeyServerURL) {
		t.Errorf("error should list missing keys: %s", stderr)
	}
}
