// Package crypto implements the small collaborator interface the core
// consumes for authenticated encryption, keyed signatures, and randomness
// (see spec.md §6). The core itself never touches a cipher primitive
// directly; everything above this package talks to the Provider interface.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/ed25519"
)

const (
	KeySize        = 32 // symmetric session key
	SignPublicSize = 32
	SignSecretSize = 64
	SignatureSize  = 64
	nonceExtSize   = 20 // cleartext-but-authenticated nonce extension carried alongside the tag
	tagSize        = chacha20poly1305.Overhead
	Overhead       = nonceExtSize + tagSize // 36, matches spec.md §6
)

// Key is a 32-byte opaque symmetric key shared between one client and one server.
type Key [KeySize]byte

// SignPublicKey / SignSecretKey / Signature are the server's fixed sign keypair
// used to authenticate connect tokens.
type SignPublicKey [SignPublicSize]byte
type SignSecretKey [SignSecretSize]byte
type Signature [SignatureSize]byte

var ErrDecryptFailed = errors.New("cutenet/crypto: decryption failed")

// Provider is the collaborator the protocol and token layers depend on.
// Swapping it out (e.g. for a hardware-backed or FIPS implementation) never
// touches sequence/replay/framing logic above it.
type Provider interface {
	// Encrypt returns ciphertext of len(plaintext)+Overhead bytes. seq is
	// mixed into the AEAD nonce and must never repeat for a given key.
	Encrypt(key Key, seq uint64, associatedData, plaintext []byte) []byte
	// Decrypt is the inverse of Encrypt; it fails closed on any tampering
	// of ciphertext, associatedData, or seq.
	Decrypt(key Key, seq uint64, associatedData, ciphertext []byte) ([]byte, error)

	Sign(sk SignSecretKey, data []byte) Signature
	Verify(pk SignPublicKey, sig Signature, data []byte) bool

	RandomBytes(buf []byte)
	GenerateSymmetricKey() Key
	GenerateSignKeypair() (SignPublicKey, SignSecretKey, error)
}

var initOnce sync.Once
var initialized bool

// Init idempotently marks the crypto collaborator as ready. Go has no
// library-global init step the way the C sources this lineage comes from
// do, but the flag is kept (spec.md §9) since callers outside this module
// may gate on it before touching key material.
func Init() {
	initOnce.Do(func() { initialized = true })
}

func Initialized() bool { return initialized }

// ChaChaProvider backs the Provider interface with golang.org/x/crypto's
// ChaCha20-Poly1305 AEAD and ed25519 signatures.
type ChaChaProvider struct{}

func New() *ChaChaProvider {
	Init()
	return &ChaChaProvider{}
}

// nonceFor builds the 12-byte ChaCha20-Poly1305 nonce from the monotonic
// packet sequence and the first 4 bytes of the per-packet random
// extension. The sequence alone already guarantees uniqueness under a
// fixed key (spec.md's per-connection nonce invariant); folding in the
// extension just avoids a structurally predictable nonce.
func nonceFor(seq uint64, ext []byte) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[0:8], seq)
	copy(nonce[8:12], ext[:4])
	return nonce
}

func (ChaChaProvider) Encrypt(key Key, seq uint64, ad, plaintext []byte) []byte {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic("cutenet/crypto: " + err.Error())
	}
	ext := make([]byte, nonceExtSize)
	if _, err := rand.Read(ext); err != nil {
		panic("cutenet/crypto: random source failed: " + err.Error())
	}
	nonce := nonceFor(seq, ext)

	fullAD := append(append([]byte{}, ad...), ext...)
	sealed := aead.Seal(nil, nonce, plaintext, fullAD)

	out := make([]byte, 0, nonceExtSize+len(sealed))
	out = append(out, ext...)
	out = append(out, sealed...)
	return out
}

func (ChaChaProvider) Decrypt(key Key, seq uint64, ad, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, ErrDecryptFailed
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	ext := ciphertext[:nonceExtSize]
	sealed := ciphertext[nonceExtSize:]
	nonce := nonceFor(seq, ext)
	fullAD := append(append([]byte{}, ad...), ext...)

	plaintext, err := aead.Open(nil, nonce, sealed, fullAD)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func (ChaChaProvider) Sign(sk SignSecretKey, data []byte) Signature {
	sig := ed25519.Sign(ed25519.PrivateKey(sk[:]), data)
	var out Signature
	copy(out[:], sig)
	return out
}

func (ChaChaProvider) Verify(pk SignPublicKey, sig Signature, data []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), data, sig[:])
}

func (ChaChaProvider) RandomBytes(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		panic("cutenet/crypto: random source failed: " + err.Error())
	}
}

func (p ChaChaProvider) GenerateSymmetricKey() Key {
	var k Key
	p.RandomBytes(k[:])
	return k
}

func (ChaChaProvider) GenerateSignKeypair() (SignPublicKey, SignSecretKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SignPublicKey{}, SignSecretKey{}, err
	}
	var pk SignPublicKey
	var sk SignSecretKey
	copy(pk[:], pub)
	copy(sk[:], priv)
	return pk, sk, nil
}
