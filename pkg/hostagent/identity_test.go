package hostagent

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateServerIDPersistsAcrossReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := LoadOrCreateServerID(path)
	if err != nil {
		t.Fatalf("LoadOrCreateServerID (first boot): %v", err)
	}
	if !strings.HasPrefix(first, "server_") {
		t.Fatalf("expected server_ prefixed ID, got %q", first)
	}

	second, err := LoadOrCreateServerID(path)
	if err != nil {
		t.Fatalf("LoadOrCreateServerID (reload): %v", err)
	}
	if second != first {
		t.Fatalf("expected stable ID across reloads, got %q then %q", first, second)
	}
}

func TestLoadOrCreateServerIDMintsFreshIDForEachNewPath(t *testing.T) {
	dir := t.TempDir()
	a, err := LoadOrCreateServerID(filepath.Join(dir, "a.json"))
	if err != nil {
		t.Fatalf("LoadOrCreateServerID a: %v", err)
	}
	b, err := LoadOrCreateServerID(filepath.Join(dir, "b.json"))
	if err != nil {
		t.Fatalf("LoadOrCreateServerID b: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct identity files to mint distinct server IDs")
	}
}
