package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintVersion(t *testing.T) {
	tests := []struct {
		name          string
		version       string
		build         string
		buildTime     string
		expectContain []string
	}{
		{
			name:          "dev build",
			version:       "dev",
			build:         "unknown",
			buildTime:     "",
			expectContain: []string{"deltaup version dev", "Go version:", "OS/Arch:"},
		},
		{
			name:          "release build with commit",
			version:       "0.3.0",
			build:         "abc1234",
			buildTime:     "2024-03-01_09:30:00",
			expectContain: []string{"deltaup version 0.3.0", "(build: abc1234)", "[2024-03-01_09:30:00]"},
		},
		{
			name:          "release build without buildtime",
			version:       "1.0.0",
			build:         "def5678",
			buildTime:     "",
			expectContain: []string{"deltaup version 1.0.0", "(build: def5678)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origVersion, origBuild, origBuildTime := Version, Build, BuildTime
			defer func() {
				Version, Build, BuildTime = origVersion, origBuild, origBuildTime
			}()
			Version, Build, BuildTime = tt.version, tt.build, tt.buildTime

			var buf bytes.Buffer
			printVersion(&buf)
			output := buf.String()
			for _, want := range tt.expectContain {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q:\n%s", want, output)
				}
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := run(t, "version")
	if code != 0 || !strings.HasPrefix(stdout, "deltaup version ") {
		t.Errorf("exit code %d output %q", code, stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := run(t, "frobnicate")
	if code == 0 || !strings.Contains(stderr, "unknown command") {
		t.Errorf("exit code %d stderr %q", code, stderr)
	}
}
