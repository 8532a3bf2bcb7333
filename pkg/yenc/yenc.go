// Package yenc implements the yEnc binary-to-text encoding used for
// posting segment payloads as NNTP articles, including the =ybegin/=ypart
// headers and per-part CRC32 validation on decode.
package yenc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
)

// DefaultLineLength is the encoded line length mandated for posted parts.
const DefaultLineLength = 128

var (
	ErrCrcMismatch  = errors.New("yenc: part crc32 mismatch")
	ErrSizeMismatch = errors.New("yenc: part size mismatch")
	ErrMalformed    = errors.New("yenc: malformed input")
)

// Part describes one yEnc part of a larger payload.
//
// Begin and End are 1-based inclusive byte offsets into the overall file,
// per the yEnc draft. For single-part posts Begin is 1 and End equals Size.
type Part struct {
	Name  string
	Part  int
	Total int
	Size  int64 // total file size
	Begin int64
	End   int64
	Data  []byte
}

// needsEscape reports whether an encoded byte must be critical-escaped.
func needsEscape(b byte) bool {
	switch b {
	case 0x00, 0x0A, 0x0D, 0x3D:
		return true
	}
	return false
}

// needsColumnEscape reports bytes escaped only in the first column.
// Leading dots would collide with NNTP dot-stuffing; leading whitespace is
// escaped per the yEnc recommendation.
func needsColumnEscape(b byte) bool {
	switch b {
	case '.', '\t', ' ':
		return true
	}
	return false
}

// Encode renders a part as yEnc text lines ready for posting.
func Encode(w io.Writer, p *Part) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "=ybegin part=%d total=%d line=%d size=%d name=%s\r\n",
		p.Part, p.Total, DefaultLineLength, p.Size, p.Name)
	fmt.Fprintf(bw, "=ypart begin=%d end=%d\r\n", p.Begin, p.End)

	col := 0
	for _, raw := range p.Data {
		enc := raw + 42
		switch {
		case needsEscape(enc):
			if col >= DefaultLineLength-1 {
				bw.WriteString("\r\n")
				col = 0
			}
			bw.WriteByte('=')
			bw.WriteByte(enc + 64)
			col += 2
		case col == 0 && needsColumnEscape(enc):
			bw.WriteByte('=')
			bw.WriteByte(enc + 64)
			col += 2
		default:
			bw.WriteByte(enc)
			col++
		}
		if col >= DefaultLineLength {
			bw.WriteString("\r\n")
			col = 0
		}
	}
	if col > 0 {
		bw.WriteString("\r\n")
	}

	crc := crc32.ChecksumIEEE(p.Data)
	fmt.Fprintf(bw, "=yend size=%d part=%d pcrc32=%08x\r\n", len(p.Data), p.Part, crc)

	return bw.Flush()
}

// EncodeToString is a convenience wrapper returning the encoded text.
func EncodeToString(p *Part) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Decode parses one yEnc part, validates the trailer CRC32 and size, and
// returns the part with Data populated.
func Decode(r io.Reader) (*Part, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	part := &Part{}
	var data []byte
	seenBegin := false
	seenEnd := false

	for scanner.Scan() {
		line := scanner.Bytes()

		switch {
		case bytes.HasPrefix(line, []byte("=ybegin ")):
			seenBegin = true
			parseHeader(string(line[len("=ybegin "):]), part, true)

		case bytes.HasPrefix(line, []byte("=ypart ")):
			parseHeader(string(line[len("=ypart "):]), part, false)

		case bytes.HasPrefix(line, []byte("=yend ")):
			if !seenBegin {
				return nil, fmt.Errorf("%w: =yend before =ybegin", ErrMalformed)
			}
			seenEnd = true
			fields := parseFields(string(line[len("=yend "):]))

			if sizeStr, ok := fields["size"]; ok {
				size, err := strconv.ParseInt(sizeStr, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: bad size field", ErrMalformed)
				}
				if size != int64(len(data)) {
					return nil, fmt.Errorf("%w: declared %d, decoded %d", ErrSizeMismatch, size, len(data))
				}
			}
			if crcStr, ok := fields["pcrc32"]; ok {
				want, err := strconv.ParseUint(crcStr, 16, 32)
				if err != nil {
					return nil, fmt.Errorf("%w: bad pcrc32 field", ErrMalformed)
				}
				got := crc32.ChecksumIEEE(data)
				if uint32(want) != got {
					return nil, fmt.Errorf("%w: declared %08x, computed %08x", ErrCrcMismatch, want, got)
				}
			}

		default:
			if !seenBegin || seenEnd {
				continue // headers or trailing noise around the encoded block
			}
			data = appendDecodedLine(data, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !seenBegin || !seenEnd {
		return nil, fmt.Errorf("%w: missing =ybegin/=yend", ErrMalformed)
	}

	part.Data = data
	return part, nil
}

// appendDecodedLine decodes one body line into out.
func appendDecodedLine(out, line []byte) []byte {
	escaped := false
	for _, b := range line {
		if escaped {
			out = append(out, b-64-42)
			escaped = false
			continue
		}
		if b == '=' {
			escaped = true
			continue
		}
		out = append(out, b-42)
	}
	return out
}

// parseHeader fills Part fields from a =ybegin or =ypart attribute list.
func parseHeader(s string, p *Part, isBegin bool) {
	fields := parseFields(s)
	if isBegin {
		if v, ok := fields["part"]; ok {
			p.Part, _ = strconv.Atoi(v)
		}
		if v, ok := fields["total"]; ok {
			p.Total, _ = strconv.Atoi(v)
		}
		if v, ok := fields["size"]; ok {
			p.Size, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := fields["name"]; ok {
			p.Name = v
		}
		return
	}
	if v, ok := fields["begin"]; ok {
		p.Begin, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields["end"]; ok {
		p.End, _ = strconv.ParseInt(v, 10, 64)
	}
}

// parseFields splits "k1=v1 k2=v2 ... name=rest with spaces" attribute
// lists. The name attribute, when present, consumes the rest of the line.
func parseFields(s string) map[string]string {
	fields := make(map[string]string)

	if idx := strings.Index(s, "name="); idx >= 0 {
		fields["name"] = strings.TrimRight(s[idx+len("name="):], "\r\n")
		s = s[:idx]
	}

	for _, tok := range strings.Fields(s) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		fields[k] = v
	}
	return fields
}
