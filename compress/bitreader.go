package compress

// BitReader reads MSB-first bit windows from a fixed byte slice.
// Peek never consumes and pads missing low-order bits with zeros,
// so callers can always ask for a full 32-bit window near the end
// of the stream. The zero value is an empty reader.
type BitReader struct {
	data []byte
	pos  uint32 // current position, in bits
	size uint32 // total stream length, in bits
}

// NewBitReader returns a reader over data positioned at the first bit.
func NewBitReader(data []byte) BitReader {
	return BitReader{data: data, size: uint32(len(data)) * 8}
}

// BitsLeft reports how many bits remain unconsumed.
func (b *BitReader) BitsLeft() uint32 {
	return b.size - b.pos
}

// Peek returns the next n bits (n <= 32) without consuming them.
// Bits past the end of the stream read as zero.
func (b *BitReader) Peek(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	if n > 32 {
		n = 32
	}
	// load a 40-bit window so any bit offset inside the first byte
	// still leaves 32 valid bits
	var v uint64
	start := b.pos / 8
	for i := uint32(0); i < 5; i++ {
		v <<= 8
		if idx := start + i; idx < uint32(len(b.data)) {
			v |= uint64(b.data[idx])
		}
	}
	return uint32(v>>(8-b.pos%8)) >> (32 - n)
}

// Eat consumes n bits. It reports false when fewer than n bits remain,
// leaving the position unchanged.
func (b *BitReader) Eat(n uint32) bool {
	if n > b.BitsLeft() {
		return false
	}
	b.pos += n
	return true
}
