package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"
)

// SchnorrProof is a non-interactive zero-knowledge proof of knowledge of
// the private scalar behind an Ed25519 public key, bound to a context
// string via the Fiat-Shamir challenge.
type SchnorrProof struct {
	Commit    []byte // R = r*B
	Challenge []byte // c = H(R || A || context), reduced
	Response  []byte // s = r + c*a
}

// privateScalar derives the clamped Ed25519 scalar from the key seed.
func privateScalar(priv ed25519.PrivateKey) (*edwards25519.Scalar, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	h := sha512.Sum512(priv.Seed())
	return edwards25519.NewScalar().SetBytesWithClamping(h[:32])
}

// challengeScalar computes the Fiat-Shamir challenge for (R, A, context).
func challengeScalar(commit, pub, context []byte) (*edwards25519.Scalar, error) {
	h := sha512.New()
	h.Write(commit)
	h.Write(pub)
	h.Write(context)
	return edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
}

// SchnorrProve produces a proof that the caller knows the private key for
// pub = priv's public key, bound to context.
func SchnorrProve(priv ed25519.PrivateKey, context []byte) (*SchnorrProof, error) {
	a, err := privateScalar(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to derive scalar: %w", err)
	}

	var seed [64]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, fmt.Errorf("failed to generate proof nonce: %w", err)
	}
	r, err := edwards25519.NewScalar().SetUniformBytes(seed[:])
	if err != nil {
		return nil, fmt.Errorf("failed to build proof nonce: %w", err)
	}

	R := (&edwards25519.Point{}).ScalarBaseMult(r)
	pub := priv.Public().(ed25519.PublicKey)

	c, err := challengeScalar(R.Bytes(), pub, context)
	if err != nil {
		return nil, fmt.Errorf("failed to derive challenge: %w", err)
	}

	// s = r + c*a
	s := edwards25519.NewScalar().MultiplyAdd(c, a, r)

	return &SchnorrProof{
		Commit:    R.Bytes(),
		Challenge: c.Bytes(),
		Response:  s.Bytes(),
	}, nil
}

// SchnorrVerify checks a proof against a public key and context.
// Returns ErrInvalidProof on any failure; verification never panics on
// malformed input.
func SchnorrVerify(pub ed25519.PublicKey, context []byte, proof *SchnorrProof) error {
	if proof == nil || len(pub) != ed25519.PublicKeySize {
		return ErrInvalidProof
	}

	R, err := (&edwards25519.Point{}).SetBytes(proof.Commit)
	if err != nil {
		return ErrInvalidProof
	}
	A, err := (&edwards25519.Point{}).SetBytes(pub)
	if err != nil {
		return ErrInvalidProof
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(proof.Response)
	if err != nil {
		return ErrInvalidProof
	}

	// Recompute the challenge; the stored one is informational.
	c, err := challengeScalar(proof.Commit, pub, context)
	if err != nil {
		return ErrInvalidProof
	}

	// s*B == R + c*A
	left := (&edwards25519.Point{}).ScalarBaseMult(s)
	right := (&edwards25519.Point{}).Add(R, (&edwards25519.Point{}).ScalarMult(c, A))

	if left.Equal(right) != 1 {
		return ErrInvalidProof
	}
	return nil
}
