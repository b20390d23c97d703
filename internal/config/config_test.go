package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Namespace != DefaultNamespace || cfg.Server.Listen != DefaultListen {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Controller.Service != "comfyui" || cfg.Controller.DummyStartDelay != time.Second {
		t.Fatalf("unexpected controller defaults: %+v", cfg.Controller)
	}
	if cfg.Release.MaxVersions != 10 || cfg.Release.ComfyUIPath != DefaultComfyUIPath {
		t.Fatalf("unexpected release defaults: %+v", cfg.Release)
	}
	if cfg.Panel.ReconnectDelay != 3*time.Second || cfg.Panel.PollInterval != 5*time.Second || cfg.Panel.Timeout != 10*time.Second {
		t.Fatalf("unexpected panel defaults: %+v", cfg.Panel)
	}
	if cfg.Panel.RestartPolicy != "strict" || cfg.Panel.ConflictPolicy != "reject" || cfg.Panel.Transport != "push" {
		t.Fatalf("unexpected panel policies: %+v", cfg.Panel)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cockpit.toml")
	writeFile(t, file, `
[server]
listen = ":9000"
base_path = "/user/me/"
token = "abc"

[controller]
dummy = true
dummy_start_delay = "250ms"

[release]
comfyui_path = "/srv/ComfyUI"
max_versions = 5

[log]
level = "debug"
format = "json"
file = "/tmp/cockpit.log"
max_size_mb = 20

[process_log]
path = "/var/log/comfyui.log"

[history]
dsns = ["sqlite:///tmp/h.db"]

[metrics]
enabled = true

[panel]
transport = "poll"
poll_interval = "2s"
restart_policy = "simple"
conflict_policy = "allow"
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9000" || cfg.Server.Token != "abc" || cfg.Server.Namespace != DefaultNamespace {
		t.Fatalf("server: %+v", cfg.Server)
	}
	if got := cfg.Server.Prefix(); got != "/user/me/comfyui-cockpit" {
		t.Fatalf("prefix: %q", got)
	}
	if !cfg.Controller.Dummy || cfg.Controller.DummyStartDelay != 250*time.Millisecond || cfg.Controller.Service != "comfyui" {
		t.Fatalf("controller: %+v", cfg.Controller)
	}
	if cfg.Release.ComfyUIPath != "/srv/ComfyUI" || cfg.Release.MaxVersions != 5 || cfg.Release.Git != "git" {
		t.Fatalf("release: %+v", cfg.Release)
	}
	lc := cfg.Log.Logger()
	if lc.Slog.Level != "debug" || lc.Slog.Format != "json" || lc.File.Path != "/tmp/cockpit.log" || lc.File.MaxSizeMB != 20 {
		t.Fatalf("log: %+v", lc)
	}
	if cfg.ProcessLog.Path != "/var/log/comfyui.log" || len(cfg.History.DSNs) != 1 || !cfg.Metrics.Enabled {
		t.Fatalf("misc: %+v", cfg)
	}
	if cfg.Panel.Transport != "poll" || cfg.Panel.PollInterval != 2*time.Second || cfg.Panel.RestartPolicy != "simple" || cfg.Panel.ConflictPolicy != "allow" {
		t.Fatalf("panel: %+v", cfg.Panel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDummyMode, "Yes")
	t.Setenv(EnvComfyUIPath, "/env/ComfyUI")
	t.Setenv(EnvToken, "envtok")
	t.Setenv("COCKPIT_SERVER_LISTEN", ":7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Controller.Dummy {
		t.Fatal("dummy mode should be enabled from env")
	}
	if cfg.Release.ComfyUIPath != "/env/ComfyUI" {
		t.Fatalf("comfyui path: %q", cfg.Release.ComfyUIPath)
	}
	if cfg.Server.Token != "envtok" || cfg.Panel.Token != "envtok" {
		t.Fatalf("token: %q %q", cfg.Server.Token, cfg.Panel.Token)
	}
	if cfg.Server.Listen != ":7777" {
		t.Fatalf("listen: %q", cfg.Server.Listen)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "# comment\nCOCKPIT_TEST_ENVFILE_PATH=\"/from/dotenv\"\nexport COCKPIT_TEST_ENVFILE_KEEP=file\n")
	file := filepath.Join(dir, "cockpit.toml")
	writeFile(t, file, `env_files = [".env", "missing.env"]`)

	t.Setenv("COCKPIT_TEST_ENVFILE_KEEP", "process")
	t.Cleanup(func() { _ = os.Unsetenv("COCKPIT_TEST_ENVFILE_PATH") })

	if _, err := Load(file); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("COCKPIT_TEST_ENVFILE_PATH"); got != "/from/dotenv" {
		t.Fatalf("env file value not exported: %q", got)
	}
	if got := os.Getenv("COCKPIT_TEST_ENVFILE_KEEP"); got != "process" {
		t.Fatalf("existing env must win over .env, got %q", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[server\nlisten=")
	if _, err := Load(bad); err == nil {
		t.Fatal("expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.toml")
	writeFile(t, invalid, "[panel]\ntransport = \"carrier-pigeon\"\n")
	if _, err := Load(invalid); err == nil {
		t.Fatal("expected validation error for transport")
	}

	tls := filepath.Join(dir, "tls.toml")
	writeFile(t, tls, "[server.tls]\nenabled = true\n")
	if _, err := Load(tls); err == nil {
		t.Fatal("expected validation error for tls without certs")
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "1", "yes", "on", " ON ", "True"} {
		if !ParseBool(s) {
			t.Errorf("ParseBool(%q) = false", s)
		}
	}
	for _, s := range []string{"", "false", "0", "no", "off", "y"} {
		if ParseBool(s) {
			t.Errorf("ParseBool(%q) = true", s)
		}
	}
}

func TestPrefix(t *testing.T) {
	cases := map[ServerConfig]string{
		{}:                                    "/comfyui-cockpit",
		{BasePath: "/"}:                       "/comfyui-cockpit",
		{BasePath: "api", Namespace: "x"}:     "/api/x",
		{BasePath: "/a/b/", Namespace: "/y/"}: "/a/b/y",
	}
	for in, want := range cases {
		if got := in.Prefix(); got != want {
			t.Errorf("%+v.Prefix() = %q, want %q", in, got, want)
		}
	}
}
