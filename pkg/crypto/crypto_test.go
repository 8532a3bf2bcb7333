package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	nonce, err := NewNonce()
	require.NoError(t, err)

	plaintext := []byte("some segment payload bytes")
	aad := []byte("segment-aad")

	ciphertext, err := Encrypt(key, nonce, plaintext, aad)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(key, nonce, ciphertext, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptTagMismatch(t *testing.T) {
	key, _ := NewKey()
	nonce, _ := NewNonce()

	ciphertext, err := Encrypt(key, nonce, []byte("payload"), nil)
	require.NoError(t, err)

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := append([]byte{}, ciphertext...)
		tampered[0] ^= 0xff
		_, err := Decrypt(key, nonce, tampered, nil)
		assert.ErrorIs(t, err, ErrAuthTagMismatch)
	})

	t.Run("wrong key", func(t *testing.T) {
		otherKey, _ := NewKey()
		_, err := Decrypt(otherKey, nonce, ciphertext, nil)
		assert.ErrorIs(t, err, ErrAuthTagMismatch)
	})

	t.Run("wrong aad", func(t *testing.T) {
		_, err := Decrypt(key, nonce, ciphertext, []byte("other"))
		assert.ErrorIs(t, err, ErrAuthTagMismatch)
	})
}

func TestDeriveShareKey(t *testing.T) {
	master := []byte("master secret")
	salt := []byte("salt value")

	k1, err := DeriveShareKey(master, salt, "index")
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	// Deterministic
	k2, err := DeriveShareKey(master, salt, "index")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	// Info string separates domains
	k3, err := DeriveShareKey(master, salt, "other")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveProtectedKey(t *testing.T) {
	params := Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: KeySize}
	salt := []byte("0123456789abcdef")

	k1, err := DeriveProtectedKey("correct horse battery staple", salt, params)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	k2, err := DeriveProtectedKey("correct horse battery staple", salt, params)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveProtectedKey("incorrect", salt, params)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveProtectedKey("pw", salt, Argon2Params{})
	assert.ErrorIs(t, err, ErrKdfFailed)
}

func TestIDFromPublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	id := IDFromPublicKey(kp.Public)
	assert.Len(t, id, 64)
	assert.Equal(t, strings.ToLower(id), id)

	// Stable for the same key, distinct across keys
	assert.Equal(t, id, IDFromPublicKey(kp.Public))
	other, _ := GenerateKeyPair()
	assert.NotEqual(t, id, IDFromPublicKey(other.Public))
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("folder index v3")
	sig := Sign(kp.Private, msg)
	assert.True(t, Verify(kp.Public, msg, sig))
	assert.False(t, Verify(kp.Public, []byte("folder index v4"), sig))

	other, _ := GenerateKeyPair()
	assert.False(t, Verify(other.Public, msg, sig))
}

func TestMerkleRoot(t *testing.T) {
	h1 := HashBytes([]byte("a"))
	h2 := HashBytes([]byte("b"))
	h3 := HashBytes([]byte("c"))

	t.Run("empty", func(t *testing.T) {
		root, err := MerkleRoot(nil)
		require.NoError(t, err)
		assert.Equal(t, HashBytes(nil), root)
	})

	t.Run("single leaf is its own root", func(t *testing.T) {
		root, err := MerkleRoot([]string{h1})
		require.NoError(t, err)
		assert.Equal(t, h1, root)
	})

	t.Run("odd level duplicates last element", func(t *testing.T) {
		root3, err := MerkleRoot([]string{h1, h2, h3})
		require.NoError(t, err)
		root4, err := MerkleRoot([]string{h1, h2, h3, h3})
		require.NoError(t, err)
		assert.Equal(t, root4, root3)
	})

	t.Run("order sensitive", func(t *testing.T) {
		r1, _ := MerkleRoot([]string{h1, h2})
		r2, _ := MerkleRoot([]string{h2, h1})
		assert.NotEqual(t, r1, r2)
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := MerkleRoot([]string{"zzzz"})
		assert.Error(t, err)
	})
}

func TestSchnorrProof(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	context := []byte("share:ABCDEFGHIJKLMNOPQRSTUVWX")

	proof, err := SchnorrProve(kp.Private, context)
	require.NoError(t, err)

	t.Run("valid proof verifies", func(t *testing.T) {
		assert.NoError(t, SchnorrVerify(kp.Public, context, proof))
	})

	t.Run("wrong context fails", func(t *testing.T) {
		err := SchnorrVerify(kp.Public, []byte("other context"), proof)
		assert.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		other, _ := GenerateKeyPair()
		err := SchnorrVerify(other.Public, context, proof)
		assert.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("tampered response fails", func(t *testing.T) {
		bad := *proof
		bad.Response = append([]byte{}, proof.Response...)
		bad.Response[0] ^= 1
		err := SchnorrVerify(kp.Public, context, &bad)
		assert.ErrorIs(t, err, ErrInvalidProof)
	})
}

func TestWrapUnwrapSessionKey(t *testing.T) {
	recipient, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	sessionKey, _ := NewKey()
	wrapped, err := WrapSessionKey(sessionKey, recipient.Public)
	require.NoError(t, err)

	unwrapped, err := UnwrapSessionKey(wrapped, recipient.Private)
	require.NoError(t, err)
	assert.Equal(t, sessionKey, unwrapped)

	t.Run("other recipient cannot unwrap", func(t *testing.T) {
		other, _ := GenerateX25519KeyPair()
		_, err := UnwrapSessionKey(wrapped, other.Private)
		assert.ErrorIs(t, err, ErrAuthTagMismatch)
	})
}

func TestHashReader(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 200*1024) // spans multiple 64 KiB blocks
	digest, n, err := HashReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, HashBytes(data), digest)
}
