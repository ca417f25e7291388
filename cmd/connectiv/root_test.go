package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

func TestRegionFromPoolID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		poolID string
		want   string
	}{
		{"us-east-1_AbCdEfGhI", "us-east-1"},
		{"eu-central-1_x", "eu-central-1"},
		{"nounderscore", ""},
		{"_leading", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := regionFromPoolID(c.poolID); got != c.want {
			t.Fatalf("regionFromPoolID(%q) = %q, want %q", c.poolID, got, c.want)
		}
	}
}

func TestConfigureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connectiv", "config.yaml")

	a := &app{configPath: path, logger: logging.NopLogger{}}
	cmd := newConfigureCmd(a)
	cmd.SetArgs([]string{"--portal-url", "https://portal.example.com", "--region", "us-east-1", "--project", "Connectiv"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("configure: %v", err)
	}

	a.loadConfigFile()
	if a.cfg.PortalURL != "https://portal.example.com" {
		t.Fatalf("PortalURL = %q", a.cfg.PortalURL)
	}
	if a.cfg.Region != "us-east-1" {
		t.Fatalf("Region = %q", a.cfg.Region)
	}
	if a.cfg.Project != "Connectiv" {
		t.Fatalf("Project = %q", a.cfg.Project)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("config file mode = %v, want 0600", perm)
	}
}

func TestConfigureRequiresPortalURL(t *testing.T) {
	t.Parallel()
	a := &app{configPath: filepath.Join(t.TempDir(), "config.yaml"), logger: logging.NopLogger{}}
	cmd := newConfigureCmd(a)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without --portal-url")
	}
}
