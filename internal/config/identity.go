package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
)

const seedLen = 6

// DeviceID returns the device identity for a role: the role prefix plus
// a six-hex-digit seed, mirroring the firmware's radio-MAC suffix. Hosts
// have no burned-in MAC, so the seed derives from a UUID generated once
// and cached at seedPath; the ID is stable for as long as that file
// survives.
func DeviceID(role Role, seedPath string) (string, error) {
	seed, err := loadOrCreateSeed(seedPath)
	if err != nil {
		return "", err
	}
	return role.Prefix() + seed, nil
}

func loadOrCreateSeed(path string) (string, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if seed := strings.TrimSpace(string(raw)); validSeed(seed) {
			return seed, nil
		}
		// Corrupt seed file: fall through and regenerate.
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read identity seed: %w", err)
	}

	u := uuid.New()
	seed := strings.ToUpper(hex.EncodeToString(u[len(u)-3:]))
	if err := os.WriteFile(path, []byte(seed+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("cache identity seed: %w", err)
	}
	return seed, nil
}

func validSeed(s string) bool {
	if len(s) != seedLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
