package instance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIDOverride(t *testing.T) {
	t.Setenv("INSTANCE_ID", "node-7")
	if got := ID(t.TempDir()); got != "node-7" {
		t.Fatalf("ID = %q, want node-7", got)
	}
}

func TestLoadOrCreateIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", idFile)

	first, err := loadOrCreate(path)
	if err != nil {
		t.Fatalf("loadOrCreate: %v", err)
	}
	if !strings.HasPrefix(first, localPrefix) || IsEphemeral(first) {
		t.Fatalf("generated id %q should be a persisted local id", first)
	}
	second, err := loadOrCreate(path)
	if err != nil {
		t.Fatalf("loadOrCreate again: %v", err)
	}
	if first != second {
		t.Fatalf("id changed across boots: %q then %q", first, second)
	}

	raw, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(raw)) != first {
		t.Fatalf("file content = %q, %v", raw, err)
	}
}

func TestIsEphemeral(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{EphemeralPrefix + "abc", true},
		{localPrefix + "abc", false},
		{"node-1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEphemeral(tt.id); got != tt.want {
			t.Errorf("IsEphemeral(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
