package compress

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

// Huffman+CDIC decompression as used by MOBI "type 17480" books: records
// are streams of bit-packed canonical Huffman codes resolving to entries
// of external CDIC dictionary records, which in turn hold either literal
// bytes or further compressed material.

const (
	huffHeaderLen = 24
	cdicHeaderLen = 16

	cacheEntries = 256
	baseEntries  = 64

	cacheDataLen = cacheEntries * 4
	baseDataLen  = baseEntries * 4

	// big-endian tables only; records usually carry a little-endian
	// mirror as well which we never touch
	huffRecordMinLen = huffHeaderLen + cacheDataLen + baseDataLen

	maxCdics = 32

	// dictionary entries may point at compressed payloads expanded by
	// recursion; corrupt dictionaries could chain forever
	maxNesting = 32
)

// HuffDicDecompressor owns one Huffman table and the ordered dictionary
// set of a single book. Load it once with SetHuffData and AddCdicData,
// then Decompress records in any order - decoding itself is stateless.
type HuffDicDecompressor struct {
	log *zap.Logger

	cache [cacheEntries]uint32
	base  [baseEntries]uint32

	dicts      [][]byte
	codeLength uint32

	haveTable bool
}

// NewHuffDicDecompressor returns an empty decompressor logging through log.
func NewHuffDicDecompressor(log *zap.Logger) *HuffDicDecompressor {
	return &HuffDicDecompressor{log: log.Named("huffcdic")}
}

// SetHuffData loads the cache and base tables from one HUFF record,
// converting entries from big-endian. Layout is fixed: 24-byte header,
// cache table right after it, base table right after that.
func (d *HuffDicDecompressor) SetHuffData(data []byte) error {
	if len(data) < huffRecordMinLen {
		return fmt.Errorf("%w: record too short (%d bytes)", ErrBadHuffRecord, len(data))
	}
	if string(data[0:4]) != "HUFF" {
		return fmt.Errorf("%w: bad magic", ErrBadHuffRecord)
	}
	hdrLen := binary.BigEndian.Uint32(data[4:])
	cacheOffset := binary.BigEndian.Uint32(data[8:])
	baseTableOffset := binary.BigEndian.Uint32(data[12:])
	if hdrLen != huffHeaderLen {
		return fmt.Errorf("%w: unexpected header length %d", ErrBadHuffRecord, hdrLen)
	}
	if cacheOffset != huffHeaderLen || baseTableOffset != huffHeaderLen+cacheDataLen {
		return fmt.Errorf("%w: unexpected table offsets %d/%d", ErrBadHuffRecord, cacheOffset, baseTableOffset)
	}
	for i := 0; i < cacheEntries; i++ {
		d.cache[i] = binary.BigEndian.Uint32(data[cacheOffset+uint32(i)*4:])
	}
	for i := 0; i < baseEntries; i++ {
		d.base[i] = binary.BigEndian.Uint32(data[baseTableOffset+uint32(i)*4:])
	}
	d.haveTable = true
	return nil
}

// AddCdicData appends one CDIC record's dictionary bytes. All
// dictionaries of a book must declare the same code length, and each
// must be large enough to address every code value.
func (d *HuffDicDecompressor) AddCdicData(data []byte) error {
	if len(data) < cdicHeaderLen {
		return fmt.Errorf("%w: record too short (%d bytes)", ErrBadCdicRecord, len(data))
	}
	if string(data[0:4]) != "CDIC" {
		return fmt.Errorf("%w: bad magic", ErrBadCdicRecord)
	}
	hdrLen := binary.BigEndian.Uint32(data[4:])
	codeLen := binary.BigEndian.Uint32(data[12:])
	if hdrLen != cdicHeaderLen {
		return fmt.Errorf("%w: unexpected header length %d", ErrBadCdicRecord, hdrLen)
	}
	if codeLen == 0 || codeLen > 16 {
		return fmt.Errorf("%w: unsupported code length %d", ErrBadCdicRecord, codeLen)
	}
	if d.codeLength != 0 && d.codeLength != codeLen {
		return fmt.Errorf("%w: code length %d does not match %d", ErrBadCdicRecord, codeLen, d.codeLength)
	}
	d.codeLength = codeLen

	size := uint32(len(data)) - hdrLen
	if size <= 1<<codeLen {
		return fmt.Errorf("%w: dictionary of %d bytes cannot address %d codes", ErrBadCdicRecord, size, uint32(1)<<codeLen)
	}
	if len(d.dicts) >= maxCdics {
		return ErrTooManyCdics
	}
	dict := make([]byte, size)
	copy(dict, data[hdrLen:])
	d.dicts = append(d.dicts, dict)
	return nil
}

// Decompress decodes one record from src into dst and returns the
// number of bytes written. Trailing undecoded bits after the nominal
// end of the stream are reported as a warning, not an error - some
// producers pad their streams.
func (d *HuffDicDecompressor) Decompress(src, dst []byte) (int, error) {
	return d.decompress(src, dst, 0)
}

func (d *HuffDicDecompressor) decompress(src, dst []byte, depth int) (int, error) {
	if depth > maxNesting {
		return 0, ErrNestedTooDeep
	}

	br := NewBitReader(src)
	var (
		dp       int
		consumed uint32
	)
	for {
		br.Eat(consumed)
		if br.BitsLeft() == 0 {
			break
		}

		bits := br.Peek(32)
		if br.BitsLeft() < 8 && bits == 0 {
			break
		}
		v := d.cache[bits>>24]
		codeLen := v & 0x1f
		if codeLen == 0 {
			return 0, ErrCorruptTable
		}

		var code uint32
		if v&0x80 != 0 { // terminal: cache entry resolves the code directly
			code = (v >> 8) - (bits >> (32 - codeLen))
		} else {
			// walk the base table up from the cache-reported length
			// until the code window clears the floor for that length
			codeLen--
			for {
				if codeLen >= 32 {
					return 0, ErrCodeTooLong
				}
				floor := d.base[codeLen*2]
				code = bits >> (31 - codeLen)
				codeLen++
				if floor <= code {
					break
				}
			}
			code = d.base[1+(codeLen-1)*2] - (bits >> (32 - codeLen))
		}

		if codeLen > br.BitsLeft() {
			// the tail is shorter than the next code: producer padding,
			// not a decodable symbol
			d.log.Warn("Compressed data left after end of stream", zap.Uint32("bits", br.BitsLeft()))
			break
		}

		n, err := d.decodeOne(code, dst[dp:], depth)
		if err != nil {
			return 0, err
		}
		dp += n
		consumed = codeLen
	}
	return dp, nil
}

// decodeOne expands a single decoded code value into dst. The high bits
// of the code select the dictionary, the low codeLength bits an entry
// slot holding the big-endian offset of the symbol payload.
func (d *HuffDicDecompressor) decodeOne(code uint32, dst []byte, depth int) (int, error) {
	dict := code >> d.codeLength
	if int(dict) >= len(d.dicts) {
		return 0, fmt.Errorf("%w: %d of %d", ErrInvalidDict, dict, len(d.dicts))
	}
	data := d.dicts[dict]

	slot := code & (1<<d.codeLength - 1)
	if int(slot)*2+2 > len(data) {
		return 0, fmt.Errorf("%w: slot %d beyond dictionary end", ErrInvalidOffset, slot)
	}
	offset := uint32(binary.BigEndian.Uint16(data[slot*2:]))
	if int(offset)+2 > len(data) {
		return 0, fmt.Errorf("%w: payload at %d beyond dictionary end", ErrInvalidOffset, offset)
	}
	symLen := binary.BigEndian.Uint16(data[offset:])
	payload := data[offset+2:]

	if symLen&0x8000 == 0 {
		// payload is itself compressed
		if int(symLen) > len(payload) {
			return 0, fmt.Errorf("%w: compressed payload of %d bytes beyond dictionary end", ErrInvalidOffset, symLen)
		}
		return d.decompress(payload[:symLen], dst, depth+1)
	}

	symLen &= 0x7fff
	if symLen > 127 {
		return 0, fmt.Errorf("%w: %d bytes", ErrSymbolTooLong, symLen)
	}
	if int(symLen) > len(payload) {
		return 0, fmt.Errorf("%w: literal payload of %d bytes beyond dictionary end", ErrInvalidOffset, symLen)
	}
	if int(symLen) > len(dst) {
		return 0, ErrDstFull
	}
	copy(dst, payload[:symLen])
	return int(symLen), nil
}
