package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRS256StoreRejectsMismatchedPublicKey(t *testing.T) {
	privatePath, _ := writeRSAKeyPairFiles(t, "signer")
	_, otherPublic := writeRSAKeyPairFiles(t, "other")

	_, err := NewJWTRS256SessionStoreFromPEM(privatePath, otherPublic, "kid-a", nil, time.Minute, nil, JWTOptions{})
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestRS256StoreRejectsVerifyKeyReusingActiveKid(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "signer")
	_, oldPublic := writeRSAKeyPairFiles(t, "old")

	_, err := NewJWTRS256SessionStoreFromPEM(privatePath, publicPath, "kid-a",
		map[string]string{"kid-a": oldPublic}, time.Minute, nil, JWTOptions{})
	if err == nil {
		t.Fatalf("expected duplicate kid error")
	}
}

func TestRS256StoreAcceptsPKCS8WithoutPublicKeyFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pkcs8.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	s, err := NewJWTRS256SessionStoreFromPEM(path, "", "", nil, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	keys := s.JWKS()
	if len(keys) != 1 || keys[0].Kid != defaultRSAKeyID {
		t.Fatalf("unexpected jwks: %+v", keys)
	}
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if userID, ok, err := s.GetUserIDByToken(token); err != nil || !ok || userID != "user-1" {
		t.Fatalf("verify: %q %v %v", userID, ok, err)
	}
}

func TestReadPEMBlockErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(path, []byte("not pem"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readRSAPrivateKey(path); err == nil {
		t.Fatalf("expected error for non-pem file")
	}
	if _, err := readRSAPublicKey(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
