package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt"
	"github.com/labstack/gommon/log"

	"wainbox/internal/model"
	"wainbox/pkg/crypt"
)

const OperatorSubject = "operator"

// KeyRing holds the ES256 key operator tokens are signed with. The key lives
// in a JWK file that is created on first use and can be swapped at runtime
// when the ring is watching it.
type KeyRing struct {
	path string

	mu         sync.RWMutex
	privateKey *ecdsa.PrivateKey
	keyID      string

	watcher *fsnotify.Watcher
}

func LoadKeyRing(path string) (*KeyRing, error) {
	k := &KeyRing{path: filepath.Clean(path)}

	err := k.reload()
	if errors.Is(err, os.ErrNotExist) {
		err = k.generate()
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (k *KeyRing) generate() error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating signing key: %w", err)
	}
	keyID := crypt.KeyID(&privateKey.PublicKey)

	keyData, err := crypt.EncodePrivateKey(privateKey, keyID)
	if err != nil {
		return fmt.Errorf("encoding signing key: %w", err)
	}
	if err := os.WriteFile(k.path, keyData, 0o600); err != nil {
		return fmt.Errorf("writing signing key: %w", err)
	}

	log.Infof("auth: generated signing key %s at %s", keyID, k.path)
	k.set(privateKey, keyID)
	return nil
}

func (k *KeyRing) reload() error {
	keyData, err := os.ReadFile(k.path)
	if err != nil {
		return fmt.Errorf("reading signing key: %w", err)
	}
	privateKey, err := crypt.DecodePrivateKey(keyData)
	if err != nil {
		return fmt.Errorf("decoding signing key: %w", err)
	}
	k.set(privateKey, crypt.KeyID(&privateKey.PublicKey))
	return nil
}

func (k *KeyRing) set(privateKey *ecdsa.PrivateKey, keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.privateKey = privateKey
	k.keyID = keyID
}

func (k *KeyRing) current() (*ecdsa.PrivateKey, string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.privateKey, k.keyID
}

func (k *KeyRing) KeyID() string {
	_, keyID := k.current()
	return keyID
}

// PublicKey returns the current verification key encoded as a base64 JWK.
func (k *KeyRing) PublicKey() (string, error) {
	privateKey, keyID := k.current()
	return crypt.EncodePublicKey(&privateKey.PublicKey, keyID)
}

func (k *KeyRing) Sign(claims jwt.Claims) (string, error) {
	privateKey, keyID := k.current()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks an operator token against the current key. Tokens signed by a
// key that has since been replaced no longer verify.
func (k *KeyRing) Verify(tokenString string) (*jwt.StandardClaims, error) {
	privateKey, keyID := k.current()

	claims := &jwt.StandardClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if kid, _ := token.Header["kid"].(string); kid != keyID {
			return nil, fmt.Errorf("unknown key id: %q", kid)
		}
		return &privateKey.PublicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrorUnauthorized, err)
	}
	if claims.Subject != OperatorSubject {
		return nil, fmt.Errorf("%w: subject %q", model.ErrorUnauthorized, claims.Subject)
	}
	return claims, nil
}

// Watch reloads the key whenever its file is written. A file that fails to
// decode is logged and the previous key stays in use.
func (k *KeyRing) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	k.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != k.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if err := k.reload(); err != nil {
						log.Errorf("auth: reloading signing key: %+v", err)
						continue
					}
					log.Infof("auth: reloaded signing key %s", k.KeyID())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("auth: watcher: %+v", err)
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(k.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", k.path, err)
	}
	return nil
}

func (k *KeyRing) Close() error {
	if k.watcher != nil {
		return k.watcher.Close()
	}
	return nil
}
