package store

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
)

// readPEMBlock returns the first PEM block in the file at path.
func readPEMBlock(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no pem block", path)
	}
	return block, nil
}

// readRSAPrivateKey accepts PKCS#1 and PKCS#8 encodings.
func readRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("load jwt private key %s: not an rsa key", path)
	}
	return key, nil
}

// readRSAPublicKey accepts a PKIX public key or an X.509 certificate.
func readRSAPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	var pub any
	if pub, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("%s: not a public key or certificate", path)
		}
		pub = cert.PublicKey
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an rsa key", path)
	}
	return rsaPub, nil
}

// loadVerifyKeys builds the kid -> key map used for verification. The active
// kid maps to the public key file when given, otherwise to the signer's own
// public half. Extra entries keep tokens signed by rotated keys valid.
func loadVerifyKeys(activeKid string, signer *rsa.PrivateKey, publicKeyPath string, extra map[string]string) (map[string]*rsa.PublicKey, error) {
	verifiers := map[string]*rsa.PublicKey{activeKid: &signer.PublicKey}
	if strings.TrimSpace(publicKeyPath) != "" {
		pub, err := readRSAPublicKey(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
		if pub.N.Cmp(signer.PublicKey.N) != 0 {
			return nil, errors.New("load jwt public key: does not match the private key")
		}
		verifiers[activeKid] = pub
	}
	for kid, path := range extra {
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		if kid == activeKid {
			return nil, fmt.Errorf("verify key %q reuses the active kid", kid)
		}
		pub, err := readRSAPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		verifiers[kid] = pub
	}
	return verifiers, nil
}

func rsaJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
