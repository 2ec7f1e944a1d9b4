package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Swarm.ProjectsRoot != "/projects" {
		t.Errorf("ProjectsRoot = %q, want /projects", cfg.Swarm.ProjectsRoot)
	}
	if cfg.Swarm.MaxDepth != 5 {
		t.Errorf("MaxDepth = %d, want 5", cfg.Swarm.MaxDepth)
	}
	if cfg.Providers.MaxRetries != 4 || cfg.Providers.RetryBaseDelayMS != 2000 {
		t.Errorf("retry policy = (%d, %d), want (4, 2000)",
			cfg.Providers.MaxRetries, cfg.Providers.RetryBaseDelayMS)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
	// local dev setup
	swarm: { projects_root: "/srv/projects", max_depth: 3 },
	gateway: { port: 9000 },
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Swarm.ProjectsRoot != "/srv/projects" {
		t.Errorf("ProjectsRoot = %q, want /srv/projects", cfg.Swarm.ProjectsRoot)
	}
	if cfg.Swarm.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", cfg.Swarm.MaxDepth)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Gateway.Port)
	}
	// Unset fields keep defaults.
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want default", cfg.Gateway.Host)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SWARMGATE_PROJECTS_ROOT", "/data/projects")
	t.Setenv("SWARMGATE_PORT", "7777")
	t.Setenv("SWARMGATE_POSTGRES_DSN", "postgres://x")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Swarm.ProjectsRoot != "/data/projects" {
		t.Errorf("ProjectsRoot = %q, want env value", cfg.Swarm.ProjectsRoot)
	}
	if cfg.Gateway.Port != 7777 {
		t.Errorf("Port = %d, want 7777", cfg.Gateway.Port)
	}
	if cfg.Storage.PostgresDSN != "postgres://x" {
		t.Errorf("PostgresDSN not read from env")
	}
}
