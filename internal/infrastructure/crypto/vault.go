package crypto

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/hkdf"

	"bankfeed/internal/domain/connector"
)

const (
	envelopeVersion = 1
	minSecretLength = 32
)

var (
	ErrUnknownKey   = errors.New("unknown credential key id")
	ErrNoActiveKey  = errors.New("active credential key id is not in the keyring")
	ErrWeakSecret   = fmt.Errorf("credential key secrets must be at least %d bytes", minSecretLength)
	ErrEmptyKeyring = errors.New("credential keyring is empty")
)

// Vault implements connector.CredentialVault with a keyring of AES-256-GCM
// keys. Each key is derived from its secret with HKDF-SHA256 so operators can
// supply secrets of any length of at least 32 bytes. New envelopes always use
// the active key; older key ids keep decrypting until they are removed.
type Vault struct {
	keys   map[string]*Encryptor
	active string
}

// NewVault builds a vault from kid -> secret pairs.
func NewVault(secrets map[string]string, activeKID string) (*Vault, error) {
	if len(secrets) == 0 {
		return nil, ErrEmptyKeyring
	}
	v := &Vault{keys: make(map[string]*Encryptor, len(secrets)), active: activeKID}
	for kid, secret := range secrets {
		kid = strings.TrimSpace(kid)
		if len(secret) < minSecretLength {
			return nil, fmt.Errorf("%w (kid %s)", ErrWeakSecret, kid)
		}
		key, err := deriveKey(kid, secret)
		if err != nil {
			return nil, err
		}
		enc, err := newEncryptor(key)
		if err != nil {
			return nil, err
		}
		v.keys[kid] = enc
	}
	if v.active == "" && len(v.keys) == 1 {
		for kid := range v.keys {
			v.active = kid
		}
	}
	if _, ok := v.keys[v.active]; !ok {
		return nil, ErrNoActiveKey
	}
	return v, nil
}

// KeyIDs lists the key ids in the keyring.
func (v *Vault) KeyIDs() []string {
	ids := make([]string, 0, len(v.keys))
	for kid := range v.keys {
		ids = append(ids, kid)
	}
	sort.Strings(ids)
	return ids
}

// Encrypt seals a credential map with the active key.
func (v *Vault) Encrypt(plain map[string]string) (connector.Envelope, error) {
	data, err := json.Marshal(plain)
	if err != nil {
		return connector.Envelope{}, fmt.Errorf("failed to encode credentials: %w", err)
	}
	ct, err := v.keys[v.active].Encrypt(string(data))
	if err != nil {
		return connector.Envelope{}, err
	}
	return connector.Envelope{Ciphertext: ct, KID: v.active}, nil
}

// Decrypt opens an envelope with the key it names.
func (v *Vault) Decrypt(env connector.Envelope) (map[string]string, error) {
	enc, ok := v.keys[env.KID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, env.KID)
	}
	data, err := enc.Decrypt(env.Ciphertext)
	if err != nil {
		return nil, err
	}
	plain := map[string]string{}
	if data == "" {
		return plain, nil
	}
	if err := json.Unmarshal([]byte(data), &plain); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return plain, nil
}

type storedEnvelope struct {
	Version    int    `json:"v"`
	KID        string `json:"kid"`
	Ciphertext string `json:"ct"`
}

// Serialize renders an envelope as the text stored with the connector.
func (v *Vault) Serialize(env connector.Envelope) (string, error) {
	data, err := json.Marshal(storedEnvelope{Version: envelopeVersion, KID: env.KID, Ciphertext: env.Ciphertext})
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope: %w", err)
	}
	return string(data), nil
}

// Parse reads stored envelope text, returning nil if it is not one.
func (v *Vault) Parse(text string) *connector.Envelope {
	var s storedEnvelope
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil
	}
	if s.Version != envelopeVersion || s.KID == "" || s.Ciphertext == "" {
		return nil
	}
	return &connector.Envelope{Ciphertext: s.Ciphertext, KID: s.KID}
}

func deriveKey(kid, secret string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("bankfeed/connector-credentials/"+kid))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key %s: %w", kid, err)
	}
	return key, nil
}
