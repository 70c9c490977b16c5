package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters: m=64MB, t=3, p=4
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32

	saltLen  = 32
	nonceLen = 12

	sealAAD = "aws-sidekick/credentials/v1"
)

var errWrongPassphrase = errors.New("incorrect passphrase or corrupted credentials file")

// sealedFile is the on-disk envelope used when a passphrase is configured.
type sealedFile struct {
	Version    int    `json:"version"`
	Sealed     bool   `json:"sealed"`
	KDF        string `json:"kdf"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"` // AES-256-GCM, includes auth tag
}

// sealer holds the derived key for one credentials file. The salt is fixed
// for the file's lifetime; every write draws a fresh nonce.
type sealer struct {
	key  []byte
	salt []byte
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func newSealer(passphrase string, salt []byte) (*sealer, error) {
	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generating salt: %w", err)
		}
	}
	return &sealer{key: deriveKey(passphrase, salt), salt: salt}, nil
}

func (s *sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return json.MarshalIndent(sealedFile{
		Version:    fileVersion,
		Sealed:     true,
		KDF:        "argon2id",
		Salt:       s.salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, []byte(sealAAD)),
	}, "", "  ")
}

func (s *sealer) open(env sealedFile) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, []byte(sealAAD))
	if err != nil {
		return nil, errWrongPassphrase
	}
	return plaintext, nil
}

// wipe zeroes the derived key.
func (s *sealer) wipe() {
	if s == nil {
		return
	}
	for i := range s.key {
		s.key[i] = 0
	}
}

// peekSealed reports whether data is a sealed envelope and returns it.
func peekSealed(data []byte) (sealedFile, bool, error) {
	var env sealedFile
	if err := json.Unmarshal(data, &env); err != nil {
		return sealedFile{}, false, fmt.Errorf("parsing credentials file: %w", err)
	}
	return env, env.Sealed, nil
}
