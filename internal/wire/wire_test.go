package wire

import (
	"net"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteByte(0x7A)
	w.WriteUint16(1234)
	w.WriteUint32(567890)
	w.WriteUint64(1 << 40)
	w.WriteFixedString("CUTENET.1", 10)

	r := NewReader(w.Bytes())
	b, err := r.ReadByte()
	assert.NilError(t, err)
	assert.Equal(t, b, byte(0x7A))

	u16, err := r.ReadUint16()
	assert.NilError(t, err)
	assert.Equal(t, u16, uint16(1234))

	u32, err := r.ReadUint32()
	assert.NilError(t, err)
	assert.Equal(t, u32, uint32(567890))

	u64, err := r.ReadUint64()
	assert.NilError(t, err)
	assert.Equal(t, u64, uint64(1<<40))

	s, err := r.ReadFixedString(10)
	assert.NilError(t, err)
	assert.Equal(t, s, "CUTENET.1")
}

func TestEndpointRoundTrip(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 42), Port: 7777}
	ep, err := cutenet.NewEndpoint(addr)
	assert.NilError(t, err)

	w := NewWriter()
	w.WriteEndpoint(ep)

	r := NewReader(w.Bytes())
	got, err := r.ReadEndpoint()
	assert.NilError(t, err)
	assert.Check(t, got.Equal(ep))
}

func TestReaderOverflow(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadUint32()
	assert.ErrorContains(t, err, "overflow")
}

func TestWritePacketReadPacketRoundTrip(t *testing.T) {
	prov := crypto.New()
	key := prov.GenerateSymmetricKey()
	payload := []byte("payload bytes")

	body := WritePacket(prov, key, 7, KindPayload, 99, payload)

	kind, seq, err := PeekSequence(body)
	assert.NilError(t, err)
	assert.Equal(t, kind, KindPayload)
	assert.Equal(t, seq, uint64(99))

	kind2, seq2, decoded, err := ReadPacket(prov, key, 7, body)
	assert.NilError(t, err)
	assert.Equal(t, kind2, KindPayload)
	assert.Equal(t, seq2, uint64(99))
	assert.DeepEqual(t, decoded, payload)
}

func TestReadPacketFailsOnWrongProtocolID(t *testing.T) {
	prov := crypto.New()
	key := prov.GenerateSymmetricKey()
	body := WritePacket(prov, key, 7, KindKeepAlive, 1, nil)

	_, _, _, err := ReadPacket(prov, key, 8, body)
	assert.Check(t, err != nil, "decrypting under the wrong protocol ID must fail")
}

func TestPayloadEncodeDecodeRoundTrip(t *testing.T) {
	data := []byte("hello")
	encoded, err := EncodePayload(data)
	assert.NilError(t, err)

	decoded, err := DecodePayload(encoded)
	assert.NilError(t, err)
	assert.DeepEqual(t, decoded, data)
}

func TestPayloadTooLargeRejected(t *testing.T) {
	_, err := EncodePayload(make([]byte, MaxPayloadDataSize+1))
	assert.Check(t, err != nil)
}

func TestChallengeEncodeDecodeRoundTrip(t *testing.T) {
	var blob [ChallengeBlobSize]byte
	blob[0] = 0xAB
	encoded := EncodeChallenge(12345, blob)

	nonce, gotBlob, err := DecodeChallenge(encoded)
	assert.NilError(t, err)
	assert.Equal(t, nonce, uint64(12345))
	assert.DeepEqual(t, gotBlob, blob)
}
