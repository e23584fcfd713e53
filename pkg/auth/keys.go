package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeyBits is the RSA modulus size for per-user key pairs.
const KeyBits = 2048

// KeyPair holds PEM encoded RSA keys. The private key is PKCS#1, the public key PKIX.
type KeyPair struct {
	PrivatePEM string
	PublicPEM  string
}

// GenerateKeyPair creates a key pair used by clients for end-to-end encryption.
func GenerateKeyPair(bits int) (KeyPair, error) {
	if bits <= 0 {
		bits = KeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate rsa key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal public key: %w", err)
	}
	return KeyPair{
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})),
	}, nil
}
