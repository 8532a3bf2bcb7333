package access

import (
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
)

// BuildCommitment binds one recipient to a private share.
//
// The record stores only a salted hash of the user identifier, so the
// authorized set is not readable from the share. The owner proves key
// possession with a Schnorr proof bound to (share id, user hash), and the
// session key is wrapped to the recipient's X25519 public key.
func BuildCommitment(ownerKeys *crypto.KeyPair, shareID, userID string, recipientX25519, sessionKey []byte) (*models.AccessCommitment, error) {
	salt, err := crypto.NewSalt(shareSaltSize)
	if err != nil {
		return nil, err
	}
	userHash := hashUserID(userID, salt)

	proof, err := crypto.SchnorrProve(ownerKeys.Private, proofContext(shareID, userHash))
	if err != nil {
		return nil, err
	}

	wrapped, err := crypto.WrapSessionKey(sessionKey, recipientX25519)
	if err != nil {
		return nil, err
	}

	return &models.AccessCommitment{
		ShareID:        shareID,
		UserIDHash:     userHash,
		Salt:           salt,
		ProofCommit:    proof.Commit,
		ProofChallenge: proof.Challenge,
		ProofResponse:  proof.Response,
		VerifyKey:      ownerKeys.Public,
		EphemeralPub:   wrapped.EphemeralPub,
		WrappedKey:     wrapped.Sealed,
		WrapNonce:      wrapped.Nonce,
	}, nil
}

// VerifyCommitment checks the commitment's Schnorr proof against its
// embedded verify key. A failed proof means the commitment was not issued
// by the holder of the verify key.
func VerifyCommitment(c *models.AccessCommitment, shareID string) error {
	proof := &crypto.SchnorrProof{
		Commit:    c.ProofCommit,
		Challenge: c.ProofChallenge,
		Response:  c.ProofResponse,
	}
	if err := crypto.SchnorrVerify(c.VerifyKey, proofContext(shareID, c.UserIDHash), proof); err != nil {
		return models.ErrAccessDenied
	}
	return nil
}

// FindCommitment locates the commitment matching a user identifier by
// recomputing each salted hash. Returns nil when no commitment matches.
func FindCommitment(commitments []models.AccessCommitment, userID string) *models.AccessCommitment {
	for i := range commitments {
		c := &commitments[i]
		if hashUserID(userID, c.Salt) == c.UserIDHash {
			return c
		}
	}
	return nil
}

func hashUserID(userID string, salt []byte) string {
	return crypto.HashBytes(append([]byte(userID), salt...))
}

func proofContext(shareID, userHash string) []byte {
	return []byte(shareID + "|" + userHash)
}
