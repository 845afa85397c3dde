// Package quickxorhash implements QuickXorHash, the content hash OneDrive
// reports for personal and business drives.
//
// Input bytes are XORed into a 160-bit circular buffer, each byte landing
// 11 bits after the previous one. The digest is that buffer with the total
// input length XORed into its last eight bytes, usually shown as base64.
package quickxorhash

import (
	"encoding/binary"
	"hash"
)

const (
	// Size is the length, in bytes, of a QuickXorHash digest.
	Size = 20

	// BlockSize is the preferred input block size for the hash, in bytes.
	BlockSize = 64

	shift       = 11
	widthInBits = Size * 8
)

type digest struct {
	cells  [Size]byte
	bitPos int // insertion point of the next byte, in [0, widthInBits)
	length uint64
}

// New returns a new hash.Hash computing the QuickXorHash checksum.
func New() hash.Hash {
	return &digest{}
}

// Write always returns len(p), nil.
func (d *digest) Write(p []byte) (int, error) {
	for _, b := range p {
		idx, off := d.bitPos/8, uint(d.bitPos%8)

		d.cells[idx] ^= b << off
		if off != 0 {
			// Spill the high bits into the next cell, wrapping at the end.
			d.cells[(idx+1)%Size] ^= b >> (8 - off)
		}

		d.bitPos += shift
		if d.bitPos >= widthInBits {
			d.bitPos -= widthInBits
		}
	}

	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the digest to b without changing the hash state.
func (d *digest) Sum(b []byte) []byte {
	out := d.cells

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], d.length)

	for i, v := range n {
		out[Size-len(n)+i] ^= v
	}

	return append(b, out[:]...)
}

func (d *digest) Reset() { *d = digest{} }

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return BlockSize }
