// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "service.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadRelativePathResolvedAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "storage:\n  path: data\n  kind: tks_gcm\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(dir, "data")
	if cfg.Storage.Path != want {
		t.Fatalf("got path %q want %q", cfg.Storage.Path, want)
	}
}

func TestLoadDefaultsKindWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "storage:\n  path: /var/lib/tks\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Kind != KindDiskGCM {
		t.Fatalf("got kind %q want %q", cfg.Storage.Kind, KindDiskGCM)
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "storage:\n  path: /var/lib/tks\n  kind: made-up\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unrecognized storage kind")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "storage:\n  path: /var/lib/tks\nbogus: true\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "storage:\n  path: /from/file\n  kind: tks_gcm\n")

	t.Setenv("TKS_STORAGE_PATH", "/from/env")
	t.Setenv("TKS_STORAGE_KIND", "foreign")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "/from/env" {
		t.Fatalf("got path %q want /from/env", cfg.Storage.Path)
	}
	if cfg.Storage.Kind != "foreign" {
		t.Fatalf("got kind %q want foreign", cfg.Storage.Kind)
	}
}

func TestDefaultPathUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/home/tester/.config")
	got, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	want := filepath.Join("/home/tester/.config", "tks", "service.yaml")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
