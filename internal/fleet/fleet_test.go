package fleet

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFleetFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fleet.toml")
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatalf("write fleet file: %v", err)
	}
	return path
}

func TestLoadParsesProcesses(t *testing.T) {
	dir := t.TempDir()
	path := writeFleetFile(t, dir, `
[global_env]
STAGE = "prod"

[[process]]
name = "web"
script = "/srv/web.py"
interpreter = "python3"
args = ["--port", "8080"]
autorestart = true
max_restarts = 5
watch = true

[[process]]
name = "worker"
script = "/srv/worker.py"
autorestart = false
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Process) != 2 {
		t.Fatalf("expected 2 process entries, got %d", len(doc.Process))
	}
	if doc.GlobalEnv["STAGE"] != "prod" {
		t.Fatalf("expected global_env STAGE=prod, got %v", doc.GlobalEnv)
	}

	opts := doc.StartOptions()
	if opts[0].Name != "web" || opts[0].Interpreter != "python3" || !opts[0].Watch {
		t.Fatalf("unexpected first entry: %+v", opts[0])
	}
	if opts[0].MaxRestarts != 5 {
		t.Fatalf("explicit max_restarts not honored: %+v", opts[0])
	}
	if opts[1].Name != "worker" || opts[1].AutoRestart {
		t.Fatalf("unexpected second entry: %+v", opts[1])
	}
}

func TestStartOptionsDefaultsForOmittedPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writeFleetFile(t, dir, `
[[process]]
name = "bare"
script = "/srv/bare.py"
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := doc.StartOptions()
	if len(opts) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(opts))
	}
	got := opts[0]
	if !got.AutoRestart {
		t.Fatal("omitted autorestart should default to true")
	}
	if got.MaxRestarts != defaultMaxRestarts {
		t.Fatalf("omitted max_restarts should default to %d, got %d", defaultMaxRestarts, got.MaxRestarts)
	}
	if got.RestartDelayMS != defaultRestartDelayMS {
		t.Fatalf("omitted restart_delay_ms should default to %d, got %d", defaultRestartDelayMS, got.RestartDelayMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing fleet file")
	}
}

func TestResolvedGlobalEnvMergesEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("STAGE=override\nEXTRA=1\n"), 0o640); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	path := writeFleetFile(t, dir, `
env_file = "`+envFile+`"

[global_env]
STAGE = "prod"
KEEP = "yes"
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	env, err := doc.ResolvedGlobalEnv()
	if err != nil {
		t.Fatalf("ResolvedGlobalEnv: %v", err)
	}
	if env["STAGE"] != "override" {
		t.Fatalf("expected env_file to override global_env, got STAGE=%q", env["STAGE"])
	}
	if env["KEEP"] != "yes" {
		t.Fatalf("expected global_env-only key to survive, got %v", env)
	}
	if env["EXTRA"] != "1" {
		t.Fatalf("expected env_file-only key to be present, got %v", env)
	}
}
