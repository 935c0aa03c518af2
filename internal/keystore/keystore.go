// Package keystore implements the RSA keypair lifecycle, client registry,
// and RS256 access-token issuance/verification for the authenticated tool
// surface.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/biosentry/biosentry/internal/model"
)

// Sentinel errors returned by [Keystore.IssueToken] and [Keystore.VerifyToken].
// Signature failures and malformed tokens map to the same sentinel so the
// caller cannot distinguish them, which avoids leaking a verification oracle.
var (
	ErrInvalidClient  = errors.New("keystore: invalid client or secret")
	ErrDisabledClient = errors.New("keystore: client is disabled")
	ErrInvalidToken   = errors.New("keystore: invalid or malformed token")
	ErrTokenExpired   = errors.New("keystore: token expired")
)

const rsaKeyBits = 2048

// Options tunes the Argon2id KDF used to hash client secrets.
type Options struct {
	Dir          string
	TokenTTL     time.Duration
	ArgonTime    uint32
	ArgonMemory  uint32 // KiB
	ArgonThreads uint8
}

func (o Options) withDefaults() Options {
	if o.TokenTTL <= 0 {
		o.TokenTTL = 60 * time.Minute
	}
	if o.ArgonTime == 0 {
		o.ArgonTime = 1
	}
	if o.ArgonMemory == 0 {
		o.ArgonMemory = 64 * 1024
	}
	if o.ArgonThreads == 0 {
		o.ArgonThreads = 4
	}
	return o
}

// Keystore persists an RSA-2048 keypair and a JSON-encoded client registry
// under Dir, and issues/verifies RS256 JWTs. Safe for concurrent use.
type Keystore struct {
	opts       Options
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey

	mu      sync.Mutex
	clients map[string]model.OAuthClient
}

// Open loads (or, on first start, generates) the keypair and client
// registry rooted at opts.Dir.
func Open(opts Options) (*Keystore, error) {
	opts = opts.withDefaults()
	if opts.Dir == "" {
		return nil, errors.New("keystore: Dir is required")
	}
	if err := os.MkdirAll(filepath.Join(opts.Dir, "keys"), 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create keys dir: %w", err)
	}

	priv, pub, err := loadOrCreateKeypair(filepath.Join(opts.Dir, "keys"))
	if err != nil {
		return nil, fmt.Errorf("keystore: keypair: %w", err)
	}

	clients, err := loadClients(clientsPath(opts.Dir))
	if err != nil {
		return nil, fmt.Errorf("keystore: client registry: %w", err)
	}

	return &Keystore{
		opts:       opts,
		privateKey: priv,
		publicKey:  pub,
		clients:    clients,
	}, nil
}

func clientsPath(dir string) string { return filepath.Join(dir, "clients.json") }

// CreateClient registers a new client and returns its id and the plaintext
// secret. The secret is never stored and is returned exactly once.
func (k *Keystore) CreateClient(name string) (clientID, clientSecret string, err error) {
	clientID = uuid.NewString()
	secretBytes := make([]byte, 24) // 192 bits
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("keystore: generate secret: %w", err)
	}
	clientSecret = base64.RawURLEncoding.EncodeToString(secretBytes)

	params := model.ClientSecretParams{
		Time:    k.opts.ArgonTime,
		Memory:  k.opts.ArgonMemory,
		Threads: k.opts.ArgonThreads,
		SaltLen: 16,
		KeyLen:  32,
	}
	params.Salt = make([]byte, params.SaltLen)
	if _, err := rand.Read(params.Salt); err != nil {
		return "", "", fmt.Errorf("keystore: generate salt: %w", err)
	}
	hash := hashSecret(clientSecret, params)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.clients[clientID] = model.OAuthClient{
		ClientID:         clientID,
		Name:             name,
		ClientSecretHash: hash,
		SecretParams:     params,
		Enabled:          true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := k.persistClientsLocked(); err != nil {
		return "", "", err
	}
	return clientID, clientSecret, nil
}

// DisableClient flips a client's enabled flag to false. Clients are never
// otherwise modified in place.
func (k *Keystore) DisableClient(clientID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.clients[clientID]
	if !ok {
		return fmt.Errorf("keystore: unknown client %q", clientID)
	}
	c.Enabled = false
	k.clients[clientID] = c
	return k.persistClientsLocked()
}

// ListClients returns a snapshot of all registered clients.
func (k *Keystore) ListClients() []model.OAuthClient {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]model.OAuthClient, 0, len(k.clients))
	for _, c := range k.clients {
		out = append(out, c)
	}
	return out
}

// IssueToken validates client_id/client_secret with a constant-time compare
// and, on success, issues an RS256 JWT with a jti and a TokenTTL expiry.
func (k *Keystore) IssueToken(clientID, clientSecret string) (string, error) {
	k.mu.Lock()
	c, ok := k.clients[clientID]
	k.mu.Unlock()
	if !ok {
		return "", ErrInvalidClient
	}
	if subtle.ConstantTimeCompare([]byte(hashSecret(clientSecret, c.SecretParams)), []byte(c.ClientSecretHash)) != 1 {
		return "", ErrInvalidClient
	}
	if !c.Enabled {
		return "", ErrDisabledClient
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   clientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(k.opts.TokenTTL)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(k.privateKey)
}

// VerifyToken parses and validates a JWT, returning the client_id in its
// subject claim. Signature failures, expiry, and malformed tokens all
// surface as [ErrInvalidToken] (or [ErrTokenExpired] for expiry) — never a
// signature-specific error, to avoid leaking a verification oracle.
func (k *Keystore) VerifyToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return k.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	k.mu.Lock()
	c, ok := k.clients[claims.Subject]
	k.mu.Unlock()
	if !ok || !c.Enabled {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenInfo parses and validates raw the same way [Keystore.VerifyToken]
// does, additionally returning its expiry for the read-only
// "issue_token_info" tool.
func (k *Keystore) TokenInfo(raw string) (clientID string, expiresAt time.Time, err error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return k.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", time.Time{}, ErrTokenExpired
		}
		return "", time.Time{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return "", time.Time{}, ErrInvalidToken
	}

	k.mu.Lock()
	c, ok := k.clients[claims.Subject]
	k.mu.Unlock()
	if !ok || !c.Enabled {
		return "", time.Time{}, ErrInvalidToken
	}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return claims.Subject, expiresAt, nil
}

// hashSecret derives an Argon2id digest of secret under params, returned as
// a base64 string suitable for constant-time storage comparison.
func hashSecret(secret string, params model.ClientSecretParams) string {
	digest := argon2.IDKey([]byte(secret), params.Salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	return base64.RawStdEncoding.EncodeToString(digest)
}

func loadOrCreateKeypair(dir string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	if privBytes, err := os.ReadFile(privPath); err == nil {
		block, _ := pem.Decode(privBytes)
		if block == nil {
			return nil, nil, errors.New("private.pem is not valid PEM")
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("parse private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, errors.New("private.pem does not contain an RSA key")
		}
		return rsaKey, &rsaKey.PublicKey, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate RSA key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return nil, nil, fmt.Errorf("write private.pem: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		return nil, nil, fmt.Errorf("write public.pem: %w", err)
	}

	return key, &key.PublicKey, nil
}
