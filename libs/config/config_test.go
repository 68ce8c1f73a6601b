package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIntList(t *testing.T) {
	t.Setenv("DURATIONS", " 15, 30,,45 ")
	got, err := IntList("DURATIONS", nil)
	if err != nil {
		t.Fatalf("IntList: %v", err)
	}
	if len(got) != 3 || got[0] != 15 || got[1] != 30 || got[2] != 45 {
		t.Fatalf("unexpected list %v", got)
	}

	t.Setenv("DURATIONS", "15,abc")
	if _, err := IntList("DURATIONS", nil); err == nil {
		t.Fatal("expected error for non-integer entry")
	}
}

func TestFallbacks(t *testing.T) {
	t.Setenv("EMPTY_VALUE", "")
	if v := String("EMPTY_VALUE", "x"); v != "x" {
		t.Fatalf("expected fallback, got %q", v)
	}
	if n, err := Int("EMPTY_VALUE", 7); err != nil || n != 7 {
		t.Fatalf("expected 7, got %d (%v)", n, err)
	}
	if d, err := Duration("EMPTY_VALUE", time.Second); err != nil || d != time.Second {
		t.Fatalf("expected 1s, got %s (%v)", d, err)
	}
	if !Bool("EMPTY_VALUE", true) {
		t.Fatal("expected bool fallback")
	}
	if _, err := RequiredString("EMPTY_VALUE"); err == nil {
		t.Fatal("expected required error")
	}
}

func TestPort(t *testing.T) {
	t.Setenv("PORT", "70000")
	if _, err := Port("PORT", "8080"); err == nil {
		t.Fatal("expected invalid port error")
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DOTENV_A=from-file\nDOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DOTENV_A", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_B") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if v := String("DOTENV_A", ""); v != "from-env" {
		t.Fatalf("existing value overridden: %q", v)
	}
	if v := String("DOTENV_B", ""); v != "from-file" {
		t.Fatalf("expected value from file, got %q", v)
	}
}
