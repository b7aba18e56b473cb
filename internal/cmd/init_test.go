package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TechnicallyShaun/idea-capture/internal/capture"
)

func runInit(t *testing.T, path string, prompter Prompter, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewInitCmd(&rootOptions{configPath: path}, prompter)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestInitCmd_WritesSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	output, err := runInit(t, path, nil)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if output != "Wrote sample configuration to "+path+"\n" {
		t.Errorf("unexpected output: %q", output)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
	if !bytes.Equal(data, capture.SampleConfig()) {
		t.Error("written config differs from the sample")
	}
}

func TestInitCmd_RefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# mine\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := runInit(t, path, nil)
	if !errors.Is(err, ErrConfigExists) {
		t.Fatalf("expected ErrConfigExists, got: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "# mine\n" {
		t.Error("existing config was modified")
	}

	if _, err := runInit(t, path, nil, "--force"); err != nil {
		t.Fatalf("--force should overwrite: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) == "# mine\n" {
		t.Error("--force did not overwrite")
	}
}

func TestInitCmd_Interactive(t *testing.T) {
	t.Setenv("IDEA_OUTPUT_DIR", "")
	t.Setenv("IDEA_NOTIFY_ENDPOINT", "")
	t.Setenv("IDEA_FORMATTER_ENDPOINT", "")
	path := filepath.Join(t.TempDir(), "config.toml")

	input := "/sync/memos\n/var/idea/staging\n/notes/ideas\n/models/ggml-base.bin\n\nhttps://ntfy.sh/my-ideas\n"
	output, err := runInit(t, path, NewReaderPrompter(strings.NewReader(input)), "--interactive")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(output, "Configuration saved to "+path) {
		t.Errorf("unexpected output: %q", output)
	}

	cfg, err := capture.Load(path)
	if err != nil {
		t.Fatalf("saved config does not load: %v", err)
	}
	if cfg.Paths.LandingDir != "/sync/memos" || cfg.Paths.OutputDir != "/notes/ideas" {
		t.Errorf("unexpected paths: %+v", cfg.Paths)
	}
	if cfg.Formatter.Endpoint != capture.DefaultFormatterEndpoint {
		t.Errorf("expected default formatter endpoint, got %q", cfg.Formatter.Endpoint)
	}
	if cfg.Notify.Endpoint != "https://ntfy.sh/my-ideas" {
		t.Errorf("unexpected notify endpoint %q", cfg.Notify.Endpoint)
	}
}

func TestInitCmd_InteractiveRequiresFolders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	_, err := runInit(t, path, NewReaderPrompter(strings.NewReader("\n")), "-i")
	if err == nil {
		t.Fatal("expected error for empty landing folder")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("no config should be written on error")
	}
}

func TestInitCmd_InteractiveRejectsSameFolders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	input := "/same\n/same\n/notes\n/m.bin\n\n\n"
	_, err := runInit(t, path, NewReaderPrompter(strings.NewReader(input)), "-i")
	if !errors.Is(err, capture.ErrDirsNotDistinct) {
		t.Errorf("expected ErrDirsNotDistinct, got: %v", err)
	}
}
