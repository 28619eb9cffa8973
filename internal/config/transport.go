package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// TransportMagic prefixes every text-encoded configuration payload.
const TransportMagic = "3Z85"

var (
	// ErrBadMagic is returned when the text does not start with a known magic.
	ErrBadMagic = errors.New("bad transport magic")

	// ErrStaleMagic is returned for magics of earlier payload generations.
	ErrStaleMagic = errors.New("stale transport magic")

	// ErrBadEncoding is returned when the Z85 body cannot be decoded.
	ErrBadEncoding = errors.New("bad transport encoding")
)

var staleMagics = []string{"1Z85", "2Z85"}

// z85Alphabet is the ZeroMQ Z85 alphabet with ',' in place of '&' so that
// payloads survive form and query encoding untouched.
const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?,<>()[]{}@%$#"

var z85Decode = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = 0xFF
	}
	for i := 0; i < len(z85Alphabet); i++ {
		t[z85Alphabet[i]] = byte(i)
	}
	return t
}()

// EncodeTransport frames payload for transmission as text: the magic
// followed by the Z85 encoding of the uvarint length and the payload,
// zero-padded to a multiple of four bytes.
func EncodeTransport(payload []byte) (string, error) {
	if len(payload) > MaxPayloadSize {
		return "", fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	body := binary.AppendUvarint(nil, uint64(len(payload)))
	body = append(body, payload...)
	for len(body)%4 != 0 {
		body = append(body, 0)
	}
	return TransportMagic + z85Encode(body), nil
}

// DecodeTransport reverses EncodeTransport. Surrounding double quotes and
// whitespace, as left behind by JSON string values, are ignored.
func DecodeTransport(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}

	if len(text) < len(TransportMagic) {
		return nil, fmt.Errorf("%w: text too short", ErrBadMagic)
	}
	magic, encoded := text[:len(TransportMagic)], text[len(TransportMagic):]
	if magic != TransportMagic {
		for _, stale := range staleMagics {
			if magic == stale {
				return nil, fmt.Errorf("%w: %q", ErrStaleMagic, magic)
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}

	body, err := z85DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	length, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, fmt.Errorf("%w: malformed length", ErrBadEncoding)
	}
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}
	body = body[n:]
	if uint64(len(body)) < length {
		return nil, fmt.Errorf("%w: truncated payload, want %d bytes got %d", ErrBadEncoding, length, len(body))
	}
	for _, pad := range body[length:] {
		if pad != 0 || len(body)-int(length) > 3 {
			return nil, fmt.Errorf("%w: trailing data", ErrBadEncoding)
		}
	}
	return body[:length], nil
}

func z85Encode(src []byte) string {
	var sb strings.Builder
	sb.Grow(len(src) / 4 * 5)
	var chunk [5]byte
	for i := 0; i < len(src); i += 4 {
		v := binary.BigEndian.Uint32(src[i:])
		for j := 4; j >= 0; j-- {
			chunk[j] = z85Alphabet[v%85]
			v /= 85
		}
		sb.Write(chunk[:])
	}
	return sb.String()
}

func z85DecodeString(s string) ([]byte, error) {
	if len(s)%5 != 0 {
		return nil, fmt.Errorf("%w: length %d not a multiple of 5", ErrBadEncoding, len(s))
	}
	dst := make([]byte, 0, len(s)/5*4)
	for i := 0; i < len(s); i += 5 {
		var v uint64
		for j := 0; j < 5; j++ {
			d := z85Decode[s[i+j]]
			if d == 0xFF {
				return nil, fmt.Errorf("%w: invalid character %q at %d", ErrBadEncoding, s[i+j], i+j)
			}
			v = v*85 + uint64(d)
		}
		if v > 0xFFFFFFFF {
			return nil, fmt.Errorf("%w: group at %d overflows", ErrBadEncoding, i)
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(v))
	}
	return dst, nil
}
