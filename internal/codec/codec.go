// Package codec implements the radio frame obfuscation and the report
// payload format shared by both device roles.
//
// Frames are report JSON with every ASCII space removed, XORed byte-wise
// against a shared secret cycled over the payload. XOR is its own inverse,
// so Pack and Unpack are symmetric. This is obfuscation against casual
// sniffing, not encryption.
package codec

import (
	"errors"
	"strings"
)

// ErrEmptySecret is returned by New when the secret is empty or all
// whitespace. A device without a shared secret cannot frame traffic.
var ErrEmptySecret = errors.New("codec: empty secret")

// Codec packs and unpacks report frames with a fixed secret.
//
// Codec values are immutable after construction and safe for concurrent
// use by the link's send path and receive consumer.
type Codec struct {
	secret []byte
}

// New creates a codec for the given shared secret.
func New(secret string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Pack strips ASCII spaces from payload and obscures the result.
//
// Report JSON never carries meaningful spaces (values are numbers, hex
// IDs, and geohashes), so stripping loses nothing and shrinks airtime.
// The input slice is not modified.
func (c *Codec) Pack(payload []byte) []byte {
	stripped := make([]byte, 0, len(payload))
	for _, b := range payload {
		if b == ' ' {
			continue
		}
		stripped = append(stripped, b)
	}
	return c.obscure(stripped)
}

// Unpack reverses Pack. For any space-free payload p,
// Unpack(Pack(p)) == p.
func (c *Codec) Unpack(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return c.obscure(out)
}

// obscure XORs b in place against the cycled secret and returns it.
// Multi-byte runes in the secret participate as raw bytes.
func (c *Codec) obscure(b []byte) []byte {
	for i := range b {
		b[i] ^= c.secret[i%len(c.secret)]
	}
	return b
}
