package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if got := Resolve("work"); got != "work" {
		t.Errorf("Resolve(flag) = %q, want work", got)
	}
	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultSessionName)
	}

	if err := os.WriteFile(filepath.Join(BaseDir(), "config.toml"), []byte("default_session = \"alt\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "alt" {
		t.Errorf("Resolve() with config = %q, want alt", got)
	}
}
