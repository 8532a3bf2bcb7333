package obfuscate

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenetsync/usenetsync/pkg/crypto"
)

func TestInternalSubject(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	subject := InternalSubject("folder-a", "file-1", 0, kp.Private)
	assert.Regexp(t, "^[0-9a-f]{64}$", subject)

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, subject, InternalSubject("folder-a", "file-1", 0, kp.Private))
	})

	t.Run("distinct per segment index", func(t *testing.T) {
		assert.NotEqual(t, subject, InternalSubject("folder-a", "file-1", 1, kp.Private))
	})

	t.Run("distinct per key", func(t *testing.T) {
		other, _ := crypto.GenerateKeyPair()
		assert.NotEqual(t, subject, InternalSubject("folder-a", "file-1", 0, other.Private))
	})
}

func TestUsenetSubject(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{20}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := UsenetSubject()
		require.NoError(t, err)
		assert.True(t, pattern.MatchString(s), "subject %q", s)
		assert.False(t, seen[s], "duplicate subject %q", s)
		seen[s] = true
	}

	t.Run("characters are uniformly distributed", func(t *testing.T) {
		// A plain modulo reduction of random bytes would overweight the
		// first 256%36 characters by a factor of 8/7, well outside the
		// band below at this sample size.
		const subjects = 10000
		counts := make(map[byte]int, len(usenetSubjectAlphabet))
		for i := 0; i < subjects; i++ {
			s, err := UsenetSubject()
			require.NoError(t, err)
			for j := 0; j < len(s); j++ {
				counts[s[j]]++
			}
		}
		expected := float64(subjects*usenetSubjectLen) / float64(len(usenetSubjectAlphabet))
		for i := 0; i < len(usenetSubjectAlphabet); i++ {
			c := usenetSubjectAlphabet[i]
			assert.InDelta(t, expected, counts[c], expected*0.07, "character %q", string(c))
		}
	})
}

func TestArticleSubject(t *testing.T) {
	s := ArticleSubject(2, 5, "ABCDEFGHIJKLMNOPQRST", "photo.jpg", "a1b2c3d4")
	assert.Equal(t, "[2/5] ABCDEFGHIJKLMNOPQRST - photo.jpg [a1b2c3d4]", s)
}

func TestMessageID(t *testing.T) {
	pattern := regexp.MustCompile(`^<[0-9a-f]{16}@ngPost\.com>$`)
	for i := 0; i < 50; i++ {
		id, err := MessageID()
		require.NoError(t, err)
		assert.True(t, pattern.MatchString(id), "message id %q", id)
	}
}

func TestShareID(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z2-7]{24}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := ShareID()
		require.NoError(t, err)
		assert.True(t, pattern.MatchString(id), "share id %q", id)
		assert.False(t, seen[id], "duplicate share id %q", id)
		seen[id] = true
	}
}

func TestObfuscatedFilename(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	name := ObfuscatedFilename("file-1", kp.Private)
	assert.Len(t, name, 16)
	assert.Equal(t, name, ObfuscatedFilename("file-1", kp.Private))
	assert.NotEqual(t, name, ObfuscatedFilename("file-2", kp.Private))
}
