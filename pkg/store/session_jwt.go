package store

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer   = "buglens"
	defaultJWTAudience = "buglens-api"
	defaultJWTLeeway   = 5 * time.Minute
	defaultRSAKeyID    = "jwt-active"

	minHMACSecretLength = 32
)

// Claim names accepted as the user id, in order of preference. The last two
// are what ASP.NET-style issuers put in tokens.
const (
	claimSubject        = "sub"
	claimNameID         = "nameid"
	claimNameIdentifier = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
)

var subjectClaims = []string{claimSubject, claimNameID, claimNameIdentifier}

var (
	errTokenRevoked   = errors.New("token revoked")
	errSubjectMissing = errors.New("token subject missing")
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTSessionStore issues and validates JWT session tokens.
// It signs with either an HS256 shared secret or an RS256 key with kid/JWKS.
type JWTSessionStore struct {
	ttl     time.Duration
	revoker TokenRevoker

	hmacSecret []byte

	rsaSigner    *rsa.PrivateKey
	rsaSignerKid string
	rsaVerifiers map[string]*rsa.PublicKey

	issuer   string
	audience string
	leeway   time.Duration
}

// NewJWTHS256SessionStore builds a session store signing with a shared secret.
func NewJWTHS256SessionStore(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if len(secret) < minHMACSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minHMACSecretLength)
	}
	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		ttl:        ttl,
		revoker:    revoker,
		hmacSecret: []byte(secret),
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		leeway:     opts.Leeway,
	}, nil
}

// NewJWTRS256SessionStoreFromPEM builds a RS256 JWT session store from PEM files.
// verifyKeyFiles maps kid -> public key path and can include previous keys.
func NewJWTRS256SessionStoreFromPEM(
	privateKeyPath string,
	publicKeyPath string,
	keyID string,
	verifyKeyFiles map[string]string,
	ttl time.Duration,
	revoker TokenRevoker,
	opts JWTOptions,
) (*JWTSessionStore, error) {
	privateKey, err := readRSAPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyID) == "" {
		keyID = defaultRSAKeyID
	}
	verifiers, err := loadVerifyKeys(keyID, privateKey, publicKeyPath, verifyKeyFiles)
	if err != nil {
		return nil, err
	}

	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		ttl:          ttl,
		revoker:      revoker,
		rsaSigner:    privateKey,
		rsaSignerKid: keyID,
		rsaVerifiers: verifiers,
		issuer:       opts.Issuer,
		audience:     opts.Audience,
		leeway:       opts.Leeway,
	}, nil
}

// TTL is the lifetime of issued tokens.
func (s *JWTSessionStore) TTL() time.Duration { return s.ttl }

// NewSession creates a signed JWT for the user ID.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        randomHexID(12),
	}

	switch {
	case s.rsaSigner != nil:
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = s.rsaSignerKid
		return token.SignedString(s.rsaSigner)
	case len(s.hmacSecret) > 0:
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.hmacSecret)
	default:
		return "", errors.New("jwt store not configured")
	}
}

// GetUserIDByToken validates a JWT and returns the user id it names.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return "", false, err
	}
	subject := subjectFromClaims(claims)
	if subject == "" {
		return "", false, errSubjectMissing
	}
	if s.revoker != nil {
		if jti := stringClaim(claims, "jti"); jti != "" {
			revoked, err := s.revoker.IsRevoked(jti)
			if err != nil {
				return "", false, err
			}
			if revoked {
				return "", false, errTokenRevoked
			}
		}
		if userRevoker, ok := s.revoker.(UserTokenRevoker); ok {
			cutoff, err := userRevoker.RevokedAfter(subject)
			if err != nil {
				return "", false, err
			}
			if !cutoff.IsZero() {
				issuedAt, err := claims.GetIssuedAt()
				if err != nil || issuedAt == nil {
					return "", false, errors.New("token issued_at missing")
				}
				// iat has second precision.
				if issuedAt.Time.Before(cutoff.Truncate(time.Second)) {
					return "", false, errTokenRevoked
				}
			}
		}
	}
	return subject, true, nil
}

// DeleteSession revokes the token until it expires. Tokens without a jti
// cannot be revoked individually and simply run out.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return nil
	}
	jti := stringClaim(claims, "jti")
	exp, err := claims.GetExpirationTime()
	if jti == "" || err != nil || exp == nil {
		return nil
	}
	return s.revoker.Revoke(jti, time.Until(exp.Time))
}

// RevokeUserSessions revokes all sessions for a user issued before since.
func (s *JWTSessionStore) RevokeUserSessions(userID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	userRevoker, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return errors.New("session revoker does not support user revocation")
	}
	return userRevoker.RevokeUser(userID, since)
}

// JWKS returns the RS256 verification keys sorted by kid. It is empty in
// HS256 mode.
func (s *JWTSessionStore) JWKS() []JWK {
	if len(s.rsaVerifiers) == 0 {
		return nil
	}
	kids := make([]string, 0, len(s.rsaVerifiers))
	for kid := range s.rsaVerifiers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		out = append(out, rsaJWK(kid, s.rsaVerifiers[kid]))
	}
	return out
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("invalid token format")
	}

	var methods []string
	if len(s.rsaVerifiers) > 0 {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(s.hmacSecret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if len(methods) == 0 {
		return claims, errors.New("jwt store not configured")
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, s.keyFunc, parserOptions...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	return claims, nil
}

func (s *JWTSessionStore) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
		if len(s.hmacSecret) == 0 {
			return nil, errors.New("hmac signing not configured")
		}
		return s.hmacSecret, nil
	}
	kid, _ := t.Header["kid"].(string)
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errors.New("token key id required")
	}
	pub, ok := s.rsaVerifiers[kid]
	if !ok {
		return nil, errors.New("unknown token key")
	}
	return pub, nil
}

func subjectFromClaims(claims jwt.MapClaims) string {
	for _, name := range subjectClaims {
		if v := stringClaim(claims, name); v != "" {
			return v
		}
	}
	return ""
}

func stringClaim(claims jwt.MapClaims, name string) string {
	v, _ := claims[name].(string)
	return strings.TrimSpace(v)
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
