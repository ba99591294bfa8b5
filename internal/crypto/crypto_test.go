package crypto

import (
	"bytes"
	"testing"

	"gotest.tools/v3/assert"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	prov := New()
	key := prov.GenerateSymmetricKey()
	plaintext := []byte("hello cutenet")
	ad := []byte("associated-data")

	ciphertext := prov.Encrypt(key, 42, ad, plaintext)
	assert.Equal(t, len(ciphertext), len(plaintext)+Overhead)

	got, err := prov.Decrypt(key, 42, ad, ciphertext)
	assert.NilError(t, err)
	assert.Check(t, bytes.Equal(got, plaintext))
}

func TestDecryptFailsOnWrongSequence(t *testing.T) {
	prov := New()
	key := prov.GenerateSymmetricKey()
	ciphertext := prov.Encrypt(key, 1, nil, []byte("payload"))

	_, err := prov.Decrypt(key, 2, nil, ciphertext)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptFailsOnTamperedAssociatedData(t *testing.T) {
	prov := New()
	key := prov.GenerateSymmetricKey()
	ciphertext := prov.Encrypt(key, 1, []byte("header-a"), []byte("payload"))

	_, err := prov.Decrypt(key, 1, []byte("header-b"), ciphertext)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	prov := New()
	key := prov.GenerateSymmetricKey()
	ciphertext := prov.Encrypt(key, 1, nil, []byte("payload"))
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err := prov.Decrypt(key, 1, nil, ciphertext)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptFailsOnWrongKey(t *testing.T) {
	prov := New()
	key := prov.GenerateSymmetricKey()
	other := prov.GenerateSymmetricKey()
	ciphertext := prov.Encrypt(key, 1, nil, []byte("payload"))

	_, err := prov.Decrypt(other, 1, nil, ciphertext)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	prov := New()
	pk, sk, err := prov.GenerateSignKeypair()
	assert.NilError(t, err)

	data := []byte("signed data")
	sig := prov.Sign(sk, data)
	assert.Check(t, prov.Verify(pk, sig, data))
	assert.Check(t, !prov.Verify(pk, sig, []byte("different data")))
}

func TestEncryptNeverReusesRandomExtension(t *testing.T) {
	prov := New()
	key := prov.GenerateSymmetricKey()
	a := prov.Encrypt(key, 1, nil, []byte("same plaintext"))
	b := prov.Encrypt(key, 1, nil, []byte("same plaintext"))
	assert.Check(t, !bytes.Equal(a, b), "two encryptions of identical plaintext/sequence must differ via the random nonce extension")
}
