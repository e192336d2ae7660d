package env

import (
	"os"
	"testing"
)

func findVal(kvs []string, key string) (string, bool) {
	for _, kv := range kvs {
		if len(kv) > len(key) && kv[:len(key)] == key && kv[len(key)] == '=' {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

func TestWithSetOverridesAndIsImmutable(t *testing.T) {
	e := New()
	e2 := e.WithSet("FOO", "bar")
	if _, ok := findVal(e.Merge(nil), "FOO"); ok {
		t.Fatal("WithSet mutated the receiver")
	}
	v, ok := findVal(e2.Merge(nil), "FOO")
	if !ok || v != "bar" {
		t.Fatalf("expected FOO=bar, got %q ok=%v", v, ok)
	}
}

func TestWithUnsetRemovesGlobal(t *testing.T) {
	e := New().WithSet("FOO", "bar").WithUnset("FOO")
	if _, ok := findVal(e.Merge(nil), "FOO"); ok {
		t.Fatal("expected FOO to be unset")
	}
}

func TestMergePrecedenceBaseGlobalsPerProcess(t *testing.T) {
	t.Setenv("HOSTPM_ENV_TEST_VAR", "from-os")
	e := New().WithSet("HOSTPM_ENV_TEST_VAR", "from-global")

	v, ok := findVal(e.Merge(nil), "HOSTPM_ENV_TEST_VAR")
	if !ok || v != "from-global" {
		t.Fatalf("expected global to win over base, got %q", v)
	}

	v, ok = findVal(e.Merge([]string{"HOSTPM_ENV_TEST_VAR=from-proc"}), "HOSTPM_ENV_TEST_VAR")
	if !ok || v != "from-proc" {
		t.Fatalf("expected per-process to win over global, got %q", v)
	}
}

func TestMergeExpandsVariableReferences(t *testing.T) {
	e := New().WithSet("HOST", "example.com").WithSet("URL", "https://${HOST}/api")
	v, ok := findVal(e.Merge(nil), "URL")
	if !ok || v != "https://example.com/api" {
		t.Fatalf("expected expansion, got %q", v)
	}
}

func TestMergeIncludesOSEnvironment(t *testing.T) {
	t.Setenv("HOSTPM_ENV_TEST_BASE", "present")
	e := New()
	v, ok := findVal(e.Merge(nil), "HOSTPM_ENV_TEST_BASE")
	if !ok || v != "present" {
		t.Fatalf("expected base OS var to be present, got %q ok=%v", v, ok)
	}
}

func TestWithSetIgnoresEmptyKey(t *testing.T) {
	e := New().WithSet("", "ignored")
	for _, kv := range e.Merge(nil) {
		if len(kv) > 0 && kv[0] == '=' {
			t.Fatalf("unexpected empty-key entry: %q", kv)
		}
	}
}

func TestEnsureBaseSnapshotsOnce(t *testing.T) {
	e := New()
	_ = e.Merge(nil)
	os.Setenv("HOSTPM_ENV_TEST_LATE", "late")
	defer os.Unsetenv("HOSTPM_ENV_TEST_LATE")
	if _, ok := findVal(e.Merge(nil), "HOSTPM_ENV_TEST_LATE"); ok {
		t.Fatal("expected base snapshot to be frozen after first Merge")
	}
}
