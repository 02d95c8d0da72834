package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// identityFile is the on-disk shape of the device identity, the only
// persistent artifact owned by the core (spec.md §6).
type identityFile struct {
	Version      int    `json:"version"`
	DeviceID     string `json:"deviceId"`
	PublicKeyPEM string `json:"publicKeyPem"`
	PrivateKeyPEM string `json:"privateKeyPem"`
	CreatedAtMs  int64  `json:"createdAtMs"`
}

// Identity is a loaded Ed25519 device identity.
type Identity struct {
	DeviceID   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// PublicKeyRaw returns the 32 raw public-key bytes.
func (id *Identity) PublicKeyRaw() []byte {
	return []byte(id.PublicKey)
}

// deriveDeviceID is the lowercase hex SHA-256 of the raw 32-byte
// Ed25519 public key.
func deriveDeviceID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return fmt.Sprintf("%x", sum)
}

// LoadOrCreateIdentity loads the identity stored at path, generating
// and persisting a new one if absent. If the stored device ID
// disagrees with the hash of the stored public key (e.g. an older
// schema), the file is rewritten with the corrected ID without
// rotating the keys — rotating would re-authenticate as a new device
// and lose any server-side grants (spec.md §9).
func LoadOrCreateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generateIdentity(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read device identity: %w", err)
	}

	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse device identity: %w", err)
	}

	pubBlock, _ := pem.Decode([]byte(f.PublicKeyPEM))
	privBlock, _ := pem.Decode([]byte(f.PrivateKeyPEM))
	if pubBlock == nil || privBlock == nil {
		return nil, fmt.Errorf("device identity file is corrupt: missing PEM blocks")
	}

	pub := ed25519.PublicKey(publicKeyFromSPKI(pubBlock.Bytes))
	priv := ed25519.PrivateKey(privBlock.Bytes)

	correctID := deriveDeviceID(pub)
	if correctID != f.DeviceID {
		f.DeviceID = correctID
		if err := writeIdentityFile(path, &f); err != nil {
			return nil, fmt.Errorf("heal device identity: %w", err)
		}
	}

	return &Identity{DeviceID: correctID, PublicKey: pub, PrivateKey: priv}, nil
}

func generateIdentity(path string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device keypair: %w", err)
	}

	deviceID := deriveDeviceID(pub)

	f := &identityFile{
		Version:       1,
		DeviceID:      deviceID,
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spkiFromPublicKey(pub)})),
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: priv})),
		CreatedAtMs:   time.Now().UnixMilli(),
	}

	if err := writeIdentityFile(path, f); err != nil {
		return nil, err
	}

	return &Identity{DeviceID: deviceID, PublicKey: pub, PrivateKey: priv}, nil
}

func writeIdentityFile(path string, f *identityFile) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create device identity directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal device identity: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write device identity: %w", err)
	}
	return nil
}

// ed25519SPKIPrefix is the fixed ASN.1 prefix that
// x509.MarshalPKIXPublicKey emits ahead of the 32 raw Ed25519 public
// key bytes; used to strip/add it without pulling in the full x509
// public-key-parsing machinery for a single fixed-size key type.
var ed25519SPKIPrefix = []byte{
	0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00,
}

func spkiFromPublicKey(pub ed25519.PublicKey) []byte {
	out := make([]byte, 0, len(ed25519SPKIPrefix)+len(pub))
	out = append(out, ed25519SPKIPrefix...)
	out = append(out, pub...)
	return out
}

func publicKeyFromSPKI(der []byte) []byte {
	if len(der) == len(ed25519SPKIPrefix)+ed25519.PublicKeySize {
		return der[len(ed25519SPKIPrefix):]
	}
	// Best-effort fallback: raw key bytes with no SPKI wrapper.
	if len(der) == ed25519.PublicKeySize {
		return der
	}
	return der
}

// Base64URLNoPad matches spec.md §4.2: base64url without padding.
func Base64URLNoPad(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
