package access

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
)

const (
	shareSaltSize = 16

	// Info string domain-separating public-share key derivation.
	publicKeyInfo = "usenetsync/public-share-key/v1"
)

// Credentials carries whatever a recipient presents when opening a share.
// Public shares need nothing beyond the identifier; protected shares need
// the password; private shares need the user identity and X25519 private
// key.
type Credentials struct {
	Password   string
	UserID     string
	X25519Priv []byte
}

// WrapPublic derives the session key from the share identifier and a fresh
// salt and embeds both in the record. Anyone holding the identifier can
// re-derive the key, so the record carries it outright. Returns the session
// key the index must be sealed with.
func WrapPublic(pub *models.Publication) ([]byte, error) {
	salt, err := crypto.NewSalt(shareSaltSize)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveShareKey([]byte(pub.ShareID), salt, publicKeyInfo)
	if err != nil {
		return nil, err
	}

	pub.AccessMode = models.AccessPublic
	pub.PublicSalt = salt
	pub.PublicKey = key
	return key, nil
}

// WrapProtected seals the session key under an Argon2id key derived from
// the password. Only the salt, the cost parameters and the sealed key are
// stored; the derived key never is.
func WrapProtected(pub *models.Publication, password string, sessionKey []byte) error {
	if password == "" {
		return fmt.Errorf("protected share requires a password")
	}

	salt, err := crypto.NewSalt(shareSaltSize)
	if err != nil {
		return err
	}
	params := crypto.DefaultArgon2Params()
	kek, err := crypto.DeriveProtectedKey(password, salt, params)
	if err != nil {
		return err
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return err
	}
	sealed, err := crypto.Encrypt(kek, nonce, sessionKey, []byte(pub.ShareID))
	if err != nil {
		return err
	}

	pub.AccessMode = models.AccessProtected
	pub.KdfSalt = salt
	pub.KdfTime = params.Time
	pub.KdfMemory = params.Memory
	pub.KdfThreads = params.Threads
	pub.WrappedKey = sealed
	pub.WrapNonce = nonce
	return nil
}

// WrapPrivate builds one commitment per authorized recipient. The share
// record itself carries no key material; each commitment wraps the session
// key for exactly one recipient.
func WrapPrivate(pub *models.Publication, ownerKeys *crypto.KeyPair, recipients []models.AuthorizedUser, sessionKey []byte) ([]models.AccessCommitment, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("private share requires at least one authorized user")
	}

	commitments := make([]models.AccessCommitment, 0, len(recipients))
	for _, r := range recipients {
		c, err := BuildCommitment(ownerKeys, pub.ShareID, r.UserID, r.X25519, sessionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to build commitment for user %s: %w", r.UserID, err)
		}
		commitments = append(commitments, *c)
	}

	pub.AccessMode = models.AccessPrivate
	return commitments, nil
}

// Open recovers the session key of a share given the recipient's
// credentials. The share's lifecycle status is checked first, then the
// mode-specific unwrap runs.
//
// Protected shares surface a wrong password as models.ErrWrongPassword; a
// private share that has no commitment matching the user, or whose
// commitment does not unwrap with the presented key, surfaces
// models.ErrNotAuthorized.
func Open(pub *models.Publication, creds Credentials, now time.Time) ([]byte, error) {
	if err := pub.Accessible(now); err != nil {
		return nil, err
	}

	switch pub.AccessMode {
	case models.AccessPublic:
		return openPublic(pub)
	case models.AccessProtected:
		return openProtected(pub, creds.Password)
	case models.AccessPrivate:
		return openPrivate(pub, creds)
	default:
		return nil, fmt.Errorf("unknown access mode: %s", pub.AccessMode)
	}
}

func openPublic(pub *models.Publication) ([]byte, error) {
	key, err := crypto.DeriveShareKey([]byte(pub.ShareID), pub.PublicSalt, publicKeyInfo)
	if err != nil {
		return nil, err
	}
	// Derivation and the stored copy must agree; a mismatch means the
	// record was tampered with.
	if len(pub.PublicKey) > 0 && subtle.ConstantTimeCompare(key, pub.PublicKey) != 1 {
		return nil, models.ErrAccessDenied
	}
	return key, nil
}

func openProtected(pub *models.Publication, password string) ([]byte, error) {
	if password == "" {
		return nil, models.ErrWrongPassword
	}

	params := crypto.Argon2Params{
		Time:    pub.KdfTime,
		Memory:  pub.KdfMemory,
		Threads: pub.KdfThreads,
		KeyLen:  crypto.KeySize,
	}
	kek, err := crypto.DeriveProtectedKey(password, pub.KdfSalt, params)
	if err != nil {
		return nil, err
	}

	key, err := crypto.Decrypt(kek, pub.WrapNonce, pub.WrappedKey, []byte(pub.ShareID))
	if err != nil {
		// Tag mismatch is indistinguishable from a wrong password.
		if errors.Is(err, crypto.ErrAuthTagMismatch) {
			return nil, models.ErrWrongPassword
		}
		return nil, err
	}
	return key, nil
}

func openPrivate(pub *models.Publication, creds Credentials) ([]byte, error) {
	if creds.UserID == "" || len(creds.X25519Priv) == 0 {
		return nil, models.ErrNotAuthorized
	}

	c := FindCommitment(pub.Commitments, creds.UserID)
	if c == nil {
		return nil, models.ErrNotAuthorized
	}
	if err := VerifyCommitment(c, pub.ShareID); err != nil {
		return nil, err
	}

	key, err := crypto.UnwrapSessionKey(&crypto.WrappedKey{
		EphemeralPub: c.EphemeralPub,
		Nonce:        c.WrapNonce,
		Sealed:       c.WrappedKey,
	}, creds.X25519Priv)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthTagMismatch) {
			return nil, models.ErrNotAuthorized
		}
		return nil, err
	}
	return key, nil
}
