// Package signing authenticates outgoing commands.
//
// An Engine signs in one of two modes. In asymmetric mode the canonical form
// of the command is signed directly with the identity's private key. In
// hybrid-secret-key mode a symmetric key bound to the key pair is derived once
// and cached, the canonical form is digested, the digest is sealed with the
// symmetric key, and a certificate of that key travels with the signature so a
// verifier holding only the public key can check it.
//
// Digest and cipher engines are pooled. Each call picks the next engine round
// robin and holds that engine's lock for the duration of the primitive, so
// throughput scales with the pool size rather than a single global lock.
// Asymmetric signatures need no pooled state.
package signing

import (
	"crypto"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/idgen"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrSigningFailure is returned when a command cannot be signed.
	ErrSigningFailure = errors.New("signing failure")

	// ErrNoPrivateKey is returned when the identity cannot sign.
	ErrNoPrivateKey = errors.New("identity has no private key")

	// ErrInvalidSignature is returned when verification fails.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Mode selects the signing scheme.
type Mode int

const (
	ModeAsymmetric Mode = iota
	ModeHybridSecretKey
)

func (m Mode) String() string {
	switch m {
	case ModeAsymmetric:
		return "asymmetric"
	case ModeHybridSecretKey:
		return "hybrid-secret-key"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses the textual form produced by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asymmetric":
		return ModeAsymmetric, nil
	case "hybrid-secret-key", "hybrid":
		return ModeHybridSecretKey, nil
	default:
		return 0, fmt.Errorf("unknown signing mode %q", s)
	}
}

// Canonicalizer produces the deterministic byte form of a command.
type Canonicalizer interface {
	Canonicalize(cmd *command.Command) ([]byte, error)
}

type digestEngine struct {
	mu sync.Mutex
	h  *blake3.Hasher
}

func (d *digestEngine) sum(data []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.h.Reset()
	_, _ = d.h.Write(data)
	return d.h.Sum(nil)
}

// cipherEngine holds the XChaCha20-Poly1305 instances built for the secret
// keys it has seen. An instance is created once per key and engine.
type cipherEngine struct {
	mu    sync.Mutex
	aeads map[string]cipher.AEAD
}

// do runs fn with the engine's instance for key while holding its lock.
func (c *cipherEngine) do(key []byte, fn func(cipher.AEAD) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	aead, ok := c.aeads[string(key)]
	if !ok {
		var err error
		aead, err = chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}
		c.aeads[string(key)] = aead
	}
	return fn(aead)
}

// Engine signs and verifies commands.
type Engine struct {
	mode   Mode
	canon  Canonicalizer
	now    func() time.Time
	logger *slog.Logger

	digests    []*digestEngine
	ciphers    []*cipherEngine
	nextDigest atomic.Uint64
	nextCipher atomic.Uint64

	keysMu sync.Mutex
	keys   map[string]*secretKey
}

type engineConfig struct {
	mode       Mode
	digestPool int
	cipherPool int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithMode selects the signing scheme.
func WithMode(m Mode) Option {
	return func(c *engineConfig) {
		c.mode = m
	}
}

// WithPoolSizes overrides the digest and cipher pool sizes.
func WithPoolSizes(digests, ciphers int) Option {
	return func(c *engineConfig) {
		if digests > 0 {
			c.digestPool = digests
		}
		if ciphers > 0 {
			c.cipherPool = ciphers
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = l
	}
}

// NewEngine creates an engine with NumCPU digest engines and 2*NumCPU
// cipher engines.
func NewEngine(canon Canonicalizer, opts ...Option) *Engine {
	cfg := engineConfig{
		mode:       ModeAsymmetric,
		digestPool: runtime.NumCPU(),
		cipherPool: 2 * runtime.NumCPU(),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		mode:    cfg.mode,
		canon:   canon,
		now:     cfg.now,
		logger:  cfg.logger.With("component", "signing"),
		digests: make([]*digestEngine, cfg.digestPool),
		ciphers: make([]*cipherEngine, cfg.cipherPool),
		keys:    make(map[string]*secretKey),
	}
	for i := range e.digests {
		e.digests[i] = &digestEngine{h: blake3.New()}
	}
	for i := range e.ciphers {
		e.ciphers[i] = &cipherEngine{aeads: make(map[string]cipher.AEAD)}
	}
	return e
}

// Mode returns the configured scheme.
func (e *Engine) Mode() Mode {
	return e.mode
}

// PoolSizes returns the digest and cipher pool sizes.
func (e *Engine) PoolSizes() (digests, ciphers int) {
	return len(e.digests), len(e.ciphers)
}

func (e *Engine) digest() *digestEngine {
	n := e.nextDigest.Add(1) - 1
	return e.digests[n%uint64(len(e.digests))]
}

func (e *Engine) cipher() *cipherEngine {
	n := e.nextCipher.Add(1) - 1
	return e.ciphers[n%uint64(len(e.ciphers))]
}

// Sign returns a signed copy of cmd. A fresh timestamp and nonce are attached
// on every call, so signing the same command twice yields distinct signatures.
func (e *Engine) Sign(cmd *command.Command, id *command.Identity) (*command.Command, error) {
	if !id.CanSign() {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailure, ErrNoPrivateKey)
	}

	signed := cmd.Clone()
	signed.Signature = ""
	signed.Identity = id
	signed.Timestamp = e.now().UTC()
	signed.Nonce = idgen.MustGenerateNonce()

	canonical, err := e.canon.Canonicalize(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailure, err)
	}

	var sig []byte
	switch e.mode {
	case ModeAsymmetric:
		sig, err = signRaw(id, canonical)
	case ModeHybridSecretKey:
		sig, err = e.signHybrid(id, signed.Nonce, canonical)
	default:
		err = fmt.Errorf("unsupported mode %s", e.mode)
	}
	if err != nil {
		e.logger.Warn("failed to sign command", "type", cmd.Type, "mode", e.mode, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSigningFailure, err)
	}

	signed.Signature = hex.EncodeToString(sig)
	return signed, nil
}

// Verify checks the signature of cmd against pub.
func (e *Engine) Verify(cmd *command.Command, pub any) error {
	if !cmd.Signed() {
		return fmt.Errorf("%w: command is unsigned", ErrInvalidSignature)
	}
	sig, err := hex.DecodeString(cmd.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	canonical, err := e.canon.Canonicalize(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch e.mode {
	case ModeAsymmetric:
		return verifyAsymmetric(pub, canonical, sig)
	case ModeHybridSecretKey:
		return e.verifyHybrid(pub, cmd.Nonce, canonical, sig)
	default:
		return fmt.Errorf("%w: unsupported mode %s", ErrInvalidSignature, e.mode)
	}
}

func signRaw(id *command.Identity, data []byte) ([]byte, error) {
	switch k := id.PrivateKey.(type) {
	case ed25519.PrivateKey:
		return ed25519.Sign(k, data), nil
	case *rsa.PrivateKey:
		sum := sha256.Sum256(data)
		return rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, sum[:])
	default:
		return nil, fmt.Errorf("%w: %T", command.ErrUnsupportedKey, id.PrivateKey)
	}
}

func verifyAsymmetric(pub any, data, sig []byte) error {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		if !ed25519.Verify(k, data, sig) {
			return ErrInvalidSignature
		}
		return nil
	case *rsa.PublicKey:
		sum := sha256.Sum256(data)
		if err := rsa.VerifyPKCS1v15(k, crypto.SHA256, sum[:], sig); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %w: %T", ErrInvalidSignature, command.ErrUnsupportedKey, pub)
	}
}

// keySeed returns the private material the symmetric key is derived from.
func keySeed(id *command.Identity) ([]byte, error) {
	switch k := id.PrivateKey.(type) {
	case ed25519.PrivateKey:
		return k.Seed(), nil
	case *rsa.PrivateKey:
		return x509.MarshalPKCS1PrivateKey(k), nil
	default:
		return nil, fmt.Errorf("%w: %T", command.ErrUnsupportedKey, id.PrivateKey)
	}
}

func deriveKey(seed []byte, guid string) ([]byte, error) {
	key := make([]byte, secretKeySize)
	r := hkdf.New(sha256.New, seed, []byte(guid), []byte("nsclient hybrid secret key"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
