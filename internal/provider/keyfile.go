package provider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for sealing the mnemonic file.
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLen      = 32
	argon2SaltLen     = 32

	// MinPasswordLength is the shortest password SealMnemonic accepts.
	MinPasswordLength = 8
)

// ErrWrongPassword is returned when a sealed file cannot be opened.
var ErrWrongPassword = errors.New("failed to decrypt (wrong password?)")

// SealedMnemonic is a mnemonic encrypted with Argon2id + AES-256-GCM, as
// stored on disk.
type SealedMnemonic struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// SealMnemonic encrypts a mnemonic under a password.
func SealMnemonic(mnemonic, password string) (*SealedMnemonic, error) {
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if _, err := DeriveKeys(mnemonic, "", 1); err != nil {
		return nil, err
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	sealed := &SealedMnemonic{
		Version:     1,
		Salt:        salt,
		Time:        argon2Time,
		Memory:      argon2Memory,
		Parallelism: argon2Parallelism,
	}

	gcm, err := sealed.aead(password)
	if err != nil {
		return nil, err
	}

	sealed.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(sealed.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed.Ciphertext = gcm.Seal(nil, sealed.Nonce, []byte(mnemonic), nil)

	return sealed, nil
}

// Open decrypts the mnemonic.
func (s *SealedMnemonic) Open(password string) (string, error) {
	gcm, err := s.aead(password)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return "", ErrWrongPassword
	}
	defer clear(plaintext)
	return string(plaintext), nil
}

// aead derives the AES key from the password with the stored parameters.
func (s *SealedMnemonic) aead(password string) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), s.Salt, s.Time, s.Memory, s.Parallelism, argon2KeyLen)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// WriteSealedMnemonic writes a sealed mnemonic to path with mode 0600.
func WriteSealedMnemonic(path string, sealed *SealedMnemonic) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ReadSealedMnemonic loads a sealed mnemonic from path.
func ReadSealedMnemonic(path string) (*SealedMnemonic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var sealed SealedMnemonic
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	if sealed.Time == 0 || sealed.Memory == 0 || sealed.Parallelism == 0 {
		return nil, fmt.Errorf("sealed mnemonic %s is missing KDF parameters", path)
	}
	return &sealed, nil
}
