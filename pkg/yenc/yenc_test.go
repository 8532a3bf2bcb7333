package yenc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, data []byte) {
	t.Helper()

	in := &Part{
		Name:  "payload.bin",
		Part:  1,
		Total: 1,
		Size:  int64(len(data)),
		Begin: 1,
		End:   int64(len(data)),
		Data:  data,
	}

	encoded, err := EncodeToString(in)
	require.NoError(t, err)

	out, err := Decode(strings.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, data, out.Data)
	assert.Equal(t, in.Part, out.Part)
	assert.Equal(t, in.Total, out.Total)
	assert.Equal(t, in.Name, out.Name)
}

func TestRoundTrip(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		roundTrip(t, []byte("hello yenc world"))
	})

	t.Run("empty payload", func(t *testing.T) {
		roundTrip(t, []byte{})
	})

	t.Run("all byte values", func(t *testing.T) {
		data := make([]byte, 256)
		for i := range data {
			data[i] = byte(i)
		}
		roundTrip(t, data)
	})

	t.Run("critical bytes only", func(t *testing.T) {
		// Raw values that encode to NUL, LF, CR and '='
		roundTrip(t, bytes.Repeat([]byte{214, 224, 227, 19}, 100))
	})

	t.Run("large payload spans many lines", func(t *testing.T) {
		data := make([]byte, 768000)
		for i := range data {
			data[i] = byte(i * 31)
		}
		roundTrip(t, data)
	})
}

func TestEncodedShape(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 500)
	p := &Part{Name: "file.dat", Part: 2, Total: 3, Size: 2000, Begin: 501, End: 1000, Data: data}

	encoded, err := EncodeToString(p)
	require.NoError(t, err)

	assert.Contains(t, encoded, "=ybegin part=2 total=3 line=128 size=2000 name=file.dat")
	assert.Contains(t, encoded, "=ypart begin=501 end=1000")
	assert.Contains(t, encoded, "=yend size=500 part=2 pcrc32=")

	// No encoded body line may exceed the declared line length
	// (escape sequences may add one extra character).
	for _, line := range strings.Split(encoded, "\r\n") {
		if strings.HasPrefix(line, "=y") || line == "" {
			continue
		}
		assert.LessOrEqual(t, len(line), DefaultLineLength+1, "line %q", line)
	}
}

func TestDecodeCorruption(t *testing.T) {
	data := []byte("some payload that will get corrupted")
	p := &Part{Name: "f", Part: 1, Total: 1, Size: int64(len(data)), Begin: 1, End: int64(len(data)), Data: data}

	encoded, err := EncodeToString(p)
	require.NoError(t, err)

	t.Run("crc mismatch", func(t *testing.T) {
		lines := strings.Split(encoded, "\r\n")
		// Flip a safe character in the body line.
		body := []byte(lines[2])
		body[0] = body[0] + 1
		lines[2] = string(body)

		_, err := Decode(strings.NewReader(strings.Join(lines, "\r\n")))
		assert.ErrorIs(t, err, ErrCrcMismatch)
	})

	t.Run("size mismatch", func(t *testing.T) {
		corrupted := strings.Replace(encoded, "=yend size=36", "=yend size=35", 1)
		_, err := Decode(strings.NewReader(corrupted))
		assert.ErrorIs(t, err, ErrSizeMismatch)
	})

	t.Run("missing trailer", func(t *testing.T) {
		idx := strings.Index(encoded, "=yend")
		_, err := Decode(strings.NewReader(encoded[:idx]))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}
