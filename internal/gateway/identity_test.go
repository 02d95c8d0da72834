package gateway

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateIdentity_GeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	id, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	require.NotEmpty(t, id.DeviceID)

	sum := sha256.Sum256(id.PublicKey)
	require.Equal(t, fmt.Sprintf("%x", sum), id.DeviceID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadOrCreateIdentity_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	first, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	second, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	require.Equal(t, first.DeviceID, second.DeviceID)
	require.Equal(t, first.PublicKey, second.PublicKey)
}

func TestLoadOrCreateIdentity_HealsStaleDeviceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	original, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var f identityFile
	require.NoError(t, json.Unmarshal(data, &f))
	f.DeviceID = "stale-id-from-an-older-schema"
	corrupted, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, corrupted, 0o600))

	healed, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	require.Equal(t, original.DeviceID, healed.DeviceID)
	require.Equal(t, original.PublicKey, healed.PublicKey)
	require.Equal(t, original.PrivateKey, healed.PrivateKey)
}
