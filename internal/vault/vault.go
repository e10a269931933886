// Package vault stores the panel API credentials encrypted at rest.
// The two bearer tokens are sealed with AES-256-GCM under a master key
// derived from the operator passphrase via Argon2id.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	FileName = "talon.vault"

	// Argon2id parameters: m=64MB, t=3, p=4
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32

	saltLen  = 32
	nonceLen = 12 // AES-256-GCM standard nonce size
)

// Well-known credential slots.
const (
	KeyApplication = "panel/application_key"
	KeyClient      = "panel/client_key"
)

// entry is a single sealed secret.
type entry struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// vaultFile is the on-disk representation.
type vaultFile struct {
	Salt    []byte            `json:"salt"`
	Entries map[string]*entry `json:"entries"`
}

// Vault holds the unlocked credential store.
type Vault struct {
	mu        sync.RWMutex
	masterKey []byte // held in memory only
	salt      []byte
	entries   map[string]*entry
	path      string // empty for memory-only mode
	dirty     bool
}

// Credentials is the pair of panel bearer tokens.
type Credentials struct {
	ApplicationKey string
	ClientKey      string
}

// DeriveKey derives the 256-bit master key from a passphrase and salt.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Create initializes a new vault with a fresh salt.
func Create(path, passphrase string) (*Vault, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	v := &Vault{
		masterKey: DeriveKey(passphrase, salt),
		salt:      salt,
		entries:   make(map[string]*entry),
		path:      path,
		dirty:     true,
	}

	if path != "" {
		if err := v.flush(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// CreateMemoryOnly creates an in-memory vault that never touches disk.
func CreateMemoryOnly(passphrase string) (*Vault, error) {
	return Create("", passphrase)
}

// Open loads a vault file and unlocks it with the passphrase. A wrong
// passphrase is detected by attempting to unseal an existing entry.
func Open(path, passphrase string) (*Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault file: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parsing vault file: %w", err)
	}

	v := &Vault{
		masterKey: DeriveKey(passphrase, vf.Salt),
		salt:      vf.Salt,
		entries:   vf.Entries,
		path:      path,
	}
	if v.entries == nil {
		v.entries = make(map[string]*entry)
	}

	for key := range v.entries {
		if _, err := v.Get(key); err != nil {
			for i := range v.masterKey {
				v.masterKey[i] = 0
			}
			return nil, fmt.Errorf("incorrect passphrase or corrupted vault")
		}
		break
	}

	return v, nil
}

// Put seals a secret under the given key, with the key name as AAD.
func (v *Vault) Put(key string, plaintext []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	gcm, err := v.cipher()
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	v.entries[key] = &entry{
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, []byte(key)),
	}
	v.dirty = true
	return nil
}

// Get unseals the secret stored under the given key.
func (v *Vault) Get(key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.entries[key]
	if !ok {
		return nil, fmt.Errorf("vault key not found: %s", key)
	}

	gcm, err := v.cipher()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, e.Nonce, e.Ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypting vault entry: %w", err)
	}
	return plaintext, nil
}

func (v *Vault) cipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// SetCredentials stores both panel tokens.
func (v *Vault) SetCredentials(creds Credentials) error {
	if err := v.Put(KeyApplication, []byte(creds.ApplicationKey)); err != nil {
		return err
	}
	return v.Put(KeyClient, []byte(creds.ClientKey))
}

// Credentials returns both panel tokens.
func (v *Vault) Credentials() (Credentials, error) {
	app, err := v.Get(KeyApplication)
	if err != nil {
		return Credentials{}, err
	}
	client, err := v.Get(KeyClient)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{ApplicationKey: string(app), ClientKey: string(client)}, nil
}

// Has checks whether a key exists.
func (v *Vault) Has(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.entries[key]
	return ok
}

// Save persists the vault to disk. No-op in memory-only mode.
func (v *Vault) Save() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flush()
}

func (v *Vault) flush() error {
	if v.path == "" || !v.dirty {
		return nil
	}

	data, err := json.Marshal(vaultFile{Salt: v.salt, Entries: v.entries})
	if err != nil {
		return fmt.Errorf("marshaling vault: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("writing vault file: %w", err)
	}
	v.dirty = false
	return nil
}

// Close flushes pending writes and zeroes the master key.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.flush()
	for i := range v.masterKey {
		v.masterKey[i] = 0
	}
	return err
}
