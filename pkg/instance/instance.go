// Package instance identifies the running process for run ownership.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

const (
	appID = "tradex-core"
	// EphemeralPrefix marks ids that could not be persisted and change every boot.
	EphemeralPrefix = "ephemeral-"
	localPrefix     = "local-"
	idFile          = "instance-id"
)

// ID returns a stable identifier for this host and process slot.
// The machine id is hashed with the app id so the raw value never leaves the host.
// INSTANCE_ID overrides it, which is how several processes on one host are told apart.
// Hosts without a machine id fall back to an id stored in stateDir.
func ID(stateDir string) string {
	if v := os.Getenv("INSTANCE_ID"); v != "" {
		return v
	}
	if id, err := machineid.ProtectedID(appID); err == nil {
		return id
	}
	if stateDir != "" {
		if id, err := loadOrCreate(filepath.Join(stateDir, idFile)); err == nil {
			return id
		}
	}
	return EphemeralPrefix + uuid.NewString()
}

// IsEphemeral reports whether id was generated without persistence.
func IsEphemeral(id string) bool {
	return strings.HasPrefix(id, EphemeralPrefix)
}

func loadOrCreate(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	id := localPrefix + uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return id, nil
}
