// Package credential holds the authentication material forwarded to the
// remote generation service.
package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/yangwenmai/infographer/internal/model"
	"github.com/yangwenmai/infographer/internal/store"
)

// Holder is the credential holder the dispatcher reads before each run.
type Holder = store.CredentialStore

var _ Holder = (*FileHolder)(nil)

// sealedFile is the on-disk layout. Payload is base64(nonce|ciphertext) of
// the JSON-encoded credential.
type sealedFile struct {
	Version int    `json:"version"`
	Payload string `json:"payload"`
}

// FileHolder keeps the credential in a 0600 file, sealed with AES-GCM under a
// per-user key. It is obfuscation against casual reads, not a keychain.
type FileHolder struct {
	path string
	key  []byte
	mu   sync.Mutex
}

// NewFileHolder returns a holder backed by path. The file need not exist.
func NewFileHolder(path string) *FileHolder {
	return &FileHolder{path: path, key: userKey()}
}

// Path returns the backing file path.
func (h *FileHolder) Path() string { return h.path }

func (h *FileHolder) GetCredential(_ context.Context) (*model.Credential, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, model.ErrNotFound
	}

	var sf sealedFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("decode credential file: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(sf.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode credential payload: %w", err)
	}
	plain, err := h.open(raw)
	if err != nil {
		return nil, fmt.Errorf("unseal credential: %w", err)
	}
	var c model.Credential
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &c, nil
}

func (h *FileHolder) SetCredential(_ context.Context, c model.Credential) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	plain, err := json.Marshal(c)
	if err != nil {
		return err
	}
	sealed, err := h.seal(plain)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	data, err := json.MarshalIndent(sealedFile{Version: 1, Payload: base64.StdEncoding.EncodeToString(sealed)}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return os.Rename(tmp, h.path)
}

func (h *FileHolder) ClearCredential(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := os.Remove(h.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

func (h *FileHolder) seal(plain []byte) ([]byte, error) {
	gcm, err := h.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (h *FileHolder) open(sealed []byte) ([]byte, error) {
	gcm, err := h.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func (h *FileHolder) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(h.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func userKey() []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("infographer-%s-%s", runtime.GOOS, os.Getenv("USER"))))
	return sum[:]
}
