// Package token implements the connect-token codec from spec.md §4.3: the
// issuer-side Generate that builds the 1114-byte blob that travels over
// HTTPS to a client, the client-side reader that strips the private
// preamble back off before forwarding the wire packet to a candidate
// server, and the server-side decrypt/validate that turns a received
// CONNECT_TOKEN packet into session state.
package token

import (
	"fmt"
	"time"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/internal/wire"
)

// invalidToken and expiredToken build the cutenet.Error shape spec.md §6
// requires at the boundary: a stable Code plus a detail string for logs.
func invalidToken(detail string) error {
	return cutenet.NewError(cutenet.CodeInvalidToken, detail)
}

func expiredToken(detail string) error {
	return cutenet.NewError(cutenet.CodeTokenExpired, detail)
}

func decryptFailed(detail string) error {
	return cutenet.NewError(cutenet.CodeDecryptFailed, detail)
}

// Version is the fixed 10-byte ASCII version string stamped into every
// token. It is zero-padded; the active length is 9.
const Version = "CUTENET.1"

const (
	PreambleSize = 90 // version(10) + app_id(8) + created_at(8) + c2s_key(32) + s2c_key(32)

	PublicSectionSize = 568
	maxEndpoints      = 32

	// secretPlaintextSize reconciles spec.md's own numbers: total packet
	// 1024 = public 568 + secret ciphertext + signature 64, so the secret
	// ciphertext is 392 bytes; minus the 36-byte AEAD overhead that's 356
	// bytes of plaintext. The fields themselves (client_id 8 + c2s_key 32 +
	// s2c_key 32 + user_data 256) only add up to 328, so the remaining 28
	// bytes are zero-filled reserved space.
	UserDataSize        = 256
	secretFieldsSize    = 8 + 32 + 32 + UserDataSize           // 328
	secretReservedSize  = 28
	secretPlaintextSize = secretFieldsSize + secretReservedSize // 356
	SecretSectionSize   = secretPlaintextSize + crypto.Overhead // 392

	SignedSize = PublicSectionSize + SecretSectionSize // 960
	PacketSize = SignedSize + crypto.SignatureSize     // 1024
	BlobSize   = PreambleSize + PacketSize             // 1114
)

// Preamble is the private, HTTPS-only half of a connect token.
type Preamble struct {
	AppID     uint64
	CreatedAt time.Time
	C2SKey    crypto.Key
	S2CKey    crypto.Key
}

// ConnectToken is what ClientReadRest returns: the preamble plus the raw
// 1024-byte packet to forward to a candidate server unmodified.
type ConnectToken struct {
	Preamble         Preamble
	Packet           [PacketSize]byte
	ExpireAt         time.Time
	HandshakeTimeout time.Duration
	Endpoints        []cutenet.Endpoint
}

// Decrypted is what ServerDecryptConnectToken returns on success.
type Decrypted struct {
	Expiration       time.Time
	HandshakeTimeout time.Duration
	Endpoints        []cutenet.Endpoint
	ClientID         uint64
	C2SKey           crypto.Key
	S2CKey           crypto.Key
	UserData         [UserDataSize]byte
	Signature        crypto.Signature // cache key
}

func writeVersion(w *wire.Writer) { w.WriteFixedString(Version, 10) }

func checkVersion(r *wire.Reader) error {
	v, err := r.ReadFixedString(10)
	if err != nil {
		return err
	}
	if v != Version {
		return invalidToken("version mismatch")
	}
	return nil
}

// buildPublicSection writes the 568-byte public section: leading type byte
// (always 0, CONNECT_TOKEN), version, app id, expiry, handshake timeout,
// and the variable-length endpoint list, zero-padded to fill the section.
func buildPublicSection(appID uint64, expireAt time.Time, handshakeTimeout time.Duration, endpoints []cutenet.Endpoint) ([]byte, error) {
	if len(endpoints) < 1 || len(endpoints) > maxEndpoints {
		return nil, invalidToken("endpoint count out of range")
	}
	w := wire.NewWriter()
	w.WriteByte(0)
	writeVersion(w)
	w.WriteUint64(appID)
	w.WriteUint64(uint64(expireAt.Unix()))
	w.WriteUint32(uint32(handshakeTimeout / time.Second))
	w.WriteUint32(uint32(len(endpoints)))
	for _, ep := range endpoints {
		w.WriteEndpoint(ep)
	}
	if len(w.Bytes()) > PublicSectionSize {
		return nil, invalidToken("endpoint list overflows public section")
	}
	w.Pad(PublicSectionSize - len(w.Bytes()))
	return w.Bytes(), nil
}

func parsePublicSection(data []byte, now time.Time, appID uint64) (expireAt time.Time, handshakeTimeout time.Duration, endpoints []cutenet.Endpoint, err error) {
	if len(data) != PublicSectionSize {
		return time.Time{}, 0, nil, invalidToken("public section size mismatch")
	}
	r := wire.NewReader(data)
	typ, err := r.ReadByte()
	if err != nil {
		return time.Time{}, 0, nil, err
	}
	if typ != 0 {
		return time.Time{}, 0, nil, invalidToken("leading type byte mismatch")
	}
	if err := checkVersion(r); err != nil {
		return time.Time{}, 0, nil, err
	}
	gotAppID, err := r.ReadUint64()
	if err != nil {
		return time.Time{}, 0, nil, err
	}
	if gotAppID != appID {
		return time.Time{}, 0, nil, invalidToken("application id mismatch")
	}
	expireUnix, err := r.ReadUint64()
	if err != nil {
		return time.Time{}, 0, nil, err
	}
	expireAt = time.Unix(int64(expireUnix), 0)
	timeoutSecs, err := r.ReadUint32()
	if err != nil {
		return time.Time{}, 0, nil, err
	}
	handshakeTimeout = time.Duration(timeoutSecs) * time.Second
	count, err := r.ReadUint32()
	if err != nil {
		return time.Time{}, 0, nil, err
	}
	if count < 1 || count > maxEndpoints {
		return time.Time{}, 0, nil, invalidToken("address count out of range")
	}
	endpoints = make([]cutenet.Endpoint, 0, count)
	for i := uint32(0); i < count; i++ {
		ep, err := r.ReadEndpoint()
		if err != nil {
			return time.Time{}, 0, nil, err
		}
		endpoints = append(endpoints, ep)
	}
	if expireAt.Before(now) || expireAt.Equal(now) {
		return time.Time{}, 0, nil, expiredToken("token expired")
	}
	return expireAt, handshakeTimeout, endpoints, nil
}

// Generate builds the 1114-byte issuer blob described in spec.md §4.3.
// sharedSecretKey is the server's long-lived symmetric key used to seal the
// secret section; signSecretKey signs the first 960 bytes.
func Generate(
	prov crypto.Provider,
	appID uint64,
	now time.Time,
	c2sKey, s2cKey crypto.Key,
	expireAt time.Time,
	handshakeTimeout time.Duration,
	endpoints []cutenet.Endpoint,
	clientID uint64,
	userData [UserDataSize]byte,
	sharedSecretKey crypto.Key,
	signSecretKey crypto.SignSecretKey,
) ([]byte, error) {
	publicBytes, err := buildPublicSection(appID, expireAt, handshakeTimeout, endpoints)
	if err != nil {
		return nil, err
	}

	sec := wire.NewWriter()
	sec.WriteUint64(clientID)
	sec.WriteBytes(c2sKey[:])
	sec.WriteBytes(s2cKey[:])
	sec.WriteBytes(userData[:])
	sec.Pad(secretReservedSize)
	// Nonce 0 is the documented exception to the "never repeat" rule: the
	// secret section is sealed exactly once at issuance under the server's
	// long-lived shared secret key, not reused as a per-packet frame.
	secretCiphertext := prov.Encrypt(sharedSecretKey, 0, publicBytes, sec.Bytes())
	if len(secretCiphertext) != SecretSectionSize {
		return nil, fmt.Errorf("token: secret section encoded to %d bytes, want %d", len(secretCiphertext), SecretSectionSize)
	}

	signed := make([]byte, 0, SignedSize)
	signed = append(signed, publicBytes...)
	signed = append(signed, secretCiphertext...)
	sig := prov.Sign(signSecretKey, signed)

	packet := make([]byte, 0, PacketSize)
	packet = append(packet, signed...)
	packet = append(packet, sig[:]...)

	preamble := wire.NewWriter()
	writeVersion(preamble)
	preamble.WriteUint64(appID)
	preamble.WriteUint64(uint64(now.Unix()))
	preamble.WriteBytes(c2sKey[:])
	preamble.WriteBytes(s2cKey[:])

	blob := make([]byte, 0, BlobSize)
	blob = append(blob, preamble.Bytes()...)
	blob = append(blob, packet...)
	return blob, nil
}

// ClientReadRest verifies the private preamble (version, app id, non-expiry)
// and returns the preamble plus the raw packet to forward to a candidate
// server. Mirrors spec.md §4.3's client_read_rest.
func ClientReadRest(blob []byte, appID uint64, now time.Time) (*ConnectToken, error) {
	if len(blob) != BlobSize {
		return nil, invalidToken("blob size mismatch")
	}
	r := wire.NewReader(blob[:PreambleSize])
	if err := checkVersion(r); err != nil {
		return nil, err
	}
	gotAppID, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	if gotAppID != appID {
		return nil, invalidToken("application id mismatch")
	}
	createdUnix, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	var c2sKey, s2cKey crypto.Key
	b, err := r.ReadBytes(32)
	if err != nil {
		return nil, err
	}
	copy(c2sKey[:], b)
	b, err = r.ReadBytes(32)
	if err != nil {
		return nil, err
	}
	copy(s2cKey[:], b)

	packetBytes := blob[PreambleSize:]
	expireAt, handshakeTimeout, endpoints, err := parsePublicSection(packetBytes[:PublicSectionSize], now, appID)
	if err != nil {
		return nil, err
	}

	ct := &ConnectToken{
		Preamble: Preamble{
			AppID:     appID,
			CreatedAt: time.Unix(int64(createdUnix), 0),
			C2SKey:    c2sKey,
			S2CKey:    s2cKey,
		},
		ExpireAt:         expireAt,
		HandshakeTimeout: handshakeTimeout,
		Endpoints:        endpoints,
	}
	copy(ct.Packet[:], packetBytes)
	return ct, nil
}

// ServerDecryptConnectToken parses and validates a received 1024-byte
// CONNECT_TOKEN packet and, on success, returns the session material the
// server needs to admit the client. It does not apply the tie-break rules
// from spec.md §4.3 (own-endpoint membership, cache/connection dedup) —
// those depend on server-side state and are the caller's responsibility.
func ServerDecryptConnectToken(packet []byte, pk crypto.SignPublicKey, sk crypto.Key, appID uint64, now time.Time, prov crypto.Provider) (*Decrypted, error) {
	if len(packet) != PacketSize {
		return nil, invalidToken("packet size mismatch")
	}
	signed := packet[:SignedSize]
	var sig crypto.Signature
	copy(sig[:], packet[SignedSize:])
	if !prov.Verify(pk, sig, signed) {
		return nil, decryptFailed("signature verification failed")
	}

	publicBytes := packet[:PublicSectionSize]
	expireAt, handshakeTimeout, endpoints, err := parsePublicSection(publicBytes, now, appID)
	if err != nil {
		return nil, err
	}

	secretCiphertext := packet[PublicSectionSize:SignedSize]
	plaintext, err := prov.Decrypt(sk, 0, publicBytes, secretCiphertext)
	if err != nil {
		return nil, decryptFailed("secret section decryption failed")
	}
	if len(plaintext) != secretPlaintextSize {
		return nil, decryptFailed("secret plaintext size mismatch")
	}
	r := wire.NewReader(plaintext[:secretFieldsSize])
	clientID, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	var c2sKey, s2cKey crypto.Key
	b, err := r.ReadBytes(32)
	if err != nil {
		return nil, err
	}
	copy(c2sKey[:], b)
	b, err = r.ReadBytes(32)
	if err != nil {
		return nil, err
	}
	copy(s2cKey[:], b)
	var userData [UserDataSize]byte
	b, err = r.ReadBytes(UserDataSize)
	if err != nil {
		return nil, err
	}
	copy(userData[:], b)

	return &Decrypted{
		Expiration:       expireAt,
		HandshakeTimeout: handshakeTimeout,
		Endpoints:        endpoints,
		ClientID:         clientID,
		C2SKey:           c2sKey,
		S2CKey:           s2cKey,
		UserData:         userData,
		Signature:        sig,
	}, nil
}

// ContainsEndpoint reports whether endpoints contains addr, the tie-break
// spec.md §4.3 requires before a server admits a CONNECT_TOKEN.
func ContainsEndpoint(endpoints []cutenet.Endpoint, addr cutenet.Endpoint) bool {
	for _, ep := range endpoints {
		if ep.Equal(addr) {
			return true
		}
	}
	return false
}
