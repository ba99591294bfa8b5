package token

import (
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
)

func testEndpoints(t *testing.T) []cutenet.Endpoint {
	t.Helper()
	ep, err := cutenet.NewEndpoint(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000})
	assert.NilError(t, err)
	return []cutenet.Endpoint{ep}
}

func TestGenerateClientReadServerDecryptRoundTrip(t *testing.T) {
	prov := crypto.New()
	pk, sk, err := prov.GenerateSignKeypair()
	assert.NilError(t, err)
	sharedKey := prov.GenerateSymmetricKey()
	c2sKey := prov.GenerateSymmetricKey()
	s2cKey := prov.GenerateSymmetricKey()

	now := time.Unix(1_700_000_000, 0)
	expireAt := now.Add(30 * time.Second)
	endpoints := testEndpoints(t)
	var userData [UserDataSize]byte
	userData[0] = 0xAB

	blob, err := Generate(prov, 1, now, c2sKey, s2cKey, expireAt, 5*time.Second, endpoints, 99, userData, sharedKey, sk)
	assert.NilError(t, err)
	assert.Equal(t, len(blob), BlobSize)

	ct, err := ClientReadRest(blob, 1, now)
	assert.NilError(t, err)
	assert.Equal(t, ct.Preamble.AppID, uint64(1))
	assert.DeepEqual(t, ct.Preamble.C2SKey, c2sKey)
	assert.DeepEqual(t, ct.Preamble.S2CKey, s2cKey)
	assert.Check(t, ct.ExpireAt.Equal(expireAt))
	assert.Equal(t, len(ct.Endpoints), 1)
	assert.Check(t, ct.Endpoints[0].Equal(endpoints[0]))

	dec, err := ServerDecryptConnectToken(ct.Packet[:], pk, sharedKey, 1, now, prov)
	assert.NilError(t, err)
	assert.Equal(t, dec.ClientID, uint64(99))
	assert.DeepEqual(t, dec.C2SKey, c2sKey)
	assert.DeepEqual(t, dec.S2CKey, s2cKey)
	assert.DeepEqual(t, dec.UserData, userData)
	assert.Check(t, dec.Expiration.Equal(expireAt))
	assert.Equal(t, len(dec.Endpoints), 1)
	assert.Check(t, dec.Endpoints[0].Equal(endpoints[0]))
}

func TestClientReadRestRejectsWrongAppID(t *testing.T) {
	prov := crypto.New()
	_, sk, err := prov.GenerateSignKeypair()
	assert.NilError(t, err)
	sharedKey := prov.GenerateSymmetricKey()
	c2sKey := prov.GenerateSymmetricKey()
	s2cKey := prov.GenerateSymmetricKey()
	now := time.Unix(1_700_000_000, 0)

	blob, err := Generate(prov, 1, now, c2sKey, s2cKey, now.Add(30*time.Second), 5*time.Second, testEndpoints(t), 1, [UserDataSize]byte{}, sharedKey, sk)
	assert.NilError(t, err)

	_, err = ClientReadRest(blob, 2, now)
	assert.Check(t, err != nil, "wrong application id must be rejected")
}

func TestClientReadRestRejectsExpiredToken(t *testing.T) {
	prov := crypto.New()
	_, sk, err := prov.GenerateSignKeypair()
	assert.NilError(t, err)
	sharedKey := prov.GenerateSymmetricKey()
	c2sKey := prov.GenerateSymmetricKey()
	s2cKey := prov.GenerateSymmetricKey()
	now := time.Unix(1_700_000_000, 0)
	expireAt := now.Add(10 * time.Second)

	blob, err := Generate(prov, 1, now, c2sKey, s2cKey, expireAt, 5*time.Second, testEndpoints(t), 1, [UserDataSize]byte{}, sharedKey, sk)
	assert.NilError(t, err)

	_, err = ClientReadRest(blob, 1, expireAt.Add(time.Second))
	assert.Check(t, err != nil, "expired token must be rejected")
}

func TestServerDecryptConnectTokenRejectsWrongSignKey(t *testing.T) {
	prov := crypto.New()
	_, sk, err := prov.GenerateSignKeypair()
	assert.NilError(t, err)
	otherPK, _, err := prov.GenerateSignKeypair()
	assert.NilError(t, err)
	sharedKey := prov.GenerateSymmetricKey()
	c2sKey := prov.GenerateSymmetricKey()
	s2cKey := prov.GenerateSymmetricKey()
	now := time.Unix(1_700_000_000, 0)

	blob, err := Generate(prov, 1, now, c2sKey, s2cKey, now.Add(30*time.Second), 5*time.Second, testEndpoints(t), 1, [UserDataSize]byte{}, sharedKey, sk)
	assert.NilError(t, err)
	ct, err := ClientReadRest(blob, 1, now)
	assert.NilError(t, err)

	_, err = ServerDecryptConnectToken(ct.Packet[:], otherPK, sharedKey, 1, now, prov)
	assert.Check(t, err != nil, "signature verification under the wrong public key must fail")
}

func TestServerDecryptConnectTokenRejectsWrongSharedKey(t *testing.T) {
	prov := crypto.New()
	pk, sk, err := prov.GenerateSignKeypair()
	assert.NilError(t, err)
	sharedKey := prov.GenerateSymmetricKey()
	otherSharedKey := prov.GenerateSymmetricKey()
	c2sKey := prov.GenerateSymmetricKey()
	s2cKey := prov.GenerateSymmetricKey()
	now := time.Unix(1_700_000_000, 0)

	blob, err := Generate(prov, 1, now, c2sKey, s2cKey, now.Add(30*time.Second), 5*time.Second, testEndpoints(t), 1, [UserDataSize]byte{}, sharedKey, sk)
	assert.NilError(t, err)
	ct, err := ClientReadRest(blob, 1, now)
	assert.NilError(t, err)

	_, err = ServerDecryptConnectToken(ct.Packet[:], pk, otherSharedKey, 1, now, prov)
	assert.Check(t, err != nil, "secret section decryption under the wrong shared key must fail")
}

func TestContainsEndpoint(t *testing.T) {
	endpoints := testEndpoints(t)
	other, err := cutenet.NewEndpoint(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1234})
	assert.NilError(t, err)

	assert.Check(t, ContainsEndpoint(endpoints, endpoints[0]))
	assert.Check(t, !ContainsEndpoint(endpoints, other))
}
