package crypt

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/rakutentech/jwk-go/jwk"
)

var ErrorNotECDSA = errors.New("key is not an ECDSA key")

// KeyID derives a stable key identifier from the public point.
func KeyID(publicKey *ecdsa.PublicKey) string {
	shaHash := sha256.New()
	shaHash.Write(publicKey.X.Bytes())
	shaHash.Write(publicKey.Y.Bytes())
	rawID := shaHash.Sum(nil)
	return base58.Encode(rawID)
}

func toJWK(key interface{}, keyID string) ([]byte, error) {
	ks := jwk.NewSpec(key)
	rawJWK, err := ks.ToJWK()
	if err != nil {
		return nil, fmt.Errorf("creating JWK: %w", err)
	}

	rawJWK.Use = "sig"
	rawJWK.Alg = "ES256"
	rawJWK.Kid = keyID

	keyData, err := rawJWK.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshalling JWK: %w", err)
	}
	return keyData, nil
}

// EncodePrivateKey returns the JSON JWK form of a P-256 signing key.
func EncodePrivateKey(privateKey *ecdsa.PrivateKey, keyID string) ([]byte, error) {
	return toJWK(privateKey, keyID)
}

func DecodePrivateKey(keyData []byte) (*ecdsa.PrivateKey, error) {
	keySpec, err := jwk.Parse(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	privateKey, ok := keySpec.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ErrorNotECDSA
	}
	return privateKey, nil
}

// EncodePublicKey returns the base64 encoded JSON JWK form of a public key.
func EncodePublicKey(publicKey *ecdsa.PublicKey, keyID string) (string, error) {
	keyData, err := toJWK(publicKey, keyID)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(keyData), nil
}
