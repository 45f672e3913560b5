package configpack

import (
	"os"
	"path/filepath"
	"testing"
)

func writePack(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing pack %s: %v", name, err)
	}
}

func TestLoadSimplePack(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "base", `
name: base
description: base pack
items:
  files:
    - path: /etc/hosts
      mode: "644"
  packages:
    - name: curl
  settings:
    - key: TZ
      expected: UTC
      type: env_var
`)

	l := NewLoader(dir)
	p, err := l.Load("base")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Items.Files) != 1 || p.Items.Files[0].Path != "/etc/hosts" {
		t.Errorf("unexpected files: %+v", p.Items.Files)
	}
}

func TestLoadExtendsOverridesByKey(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "base", `
name: base
description: base pack
items:
  files:
    - path: /etc/motd
      mode: "644"
  packages:
    - name: curl
      min_version: "7.0"
`)
	writePack(t, dir, "developer-lite", `
name: developer-lite
description: developer extras
extends: base
items:
  packages:
    - name: curl
      min_version: "8.0"
    - name: git
`)

	l := NewLoader(dir)
	p, err := l.Load("developer-lite")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Items.Files) != 1 {
		t.Errorf("expected inherited file from base, got %+v", p.Items.Files)
	}
	var curlVersion string
	for _, pkg := range p.Items.Packages {
		if pkg.Name == "curl" {
			curlVersion = pkg.MinVersion
		}
	}
	if curlVersion != "8.0" {
		t.Errorf("expected child override of curl min_version to 8.0, got %q", curlVersion)
	}
	if len(p.Items.Packages) != 2 {
		t.Errorf("expected 2 packages (curl override + git), got %d", len(p.Items.Packages))
	}
}

func TestLoadDetectsExtendsCycle(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "a", "name: a\ndescription: a\nextends: b\nitems: {}\n")
	writePack(t, dir, "b", "name: b\ndescription: b\nextends: a\nitems: {}\n")

	l := NewLoader(dir)
	if _, err := l.Load("a"); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestDefaultPacksForMachineType(t *testing.T) {
	if got := DefaultPacksForMachineType("workstation"); len(got) != 2 || got[0] != "base" {
		t.Errorf("workstation defaults = %v", got)
	}
	if got := DefaultPacksForMachineType("server"); len(got) != 1 || got[0] != "base" {
		t.Errorf("server defaults = %v", got)
	}
}

func TestHasBase(t *testing.T) {
	if !HasBase([]string{"base", "developer-lite"}) {
		t.Error("expected HasBase true")
	}
	if HasBase([]string{"developer-lite"}) {
		t.Error("expected HasBase false when base missing")
	}
}
