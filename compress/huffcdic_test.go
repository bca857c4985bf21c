package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// buildHuffRecord assembles a minimal big-endian HUFF record around the
// given cache and base tables.
func buildHuffRecord(cache *[cacheEntries]uint32, base *[baseEntries]uint32) []byte {
	rec := make([]byte, huffRecordMinLen)
	copy(rec, "HUFF")
	binary.BigEndian.PutUint32(rec[4:], huffHeaderLen)
	binary.BigEndian.PutUint32(rec[8:], huffHeaderLen)
	binary.BigEndian.PutUint32(rec[12:], huffHeaderLen+cacheDataLen)
	for i, v := range cache {
		binary.BigEndian.PutUint32(rec[huffHeaderLen+i*4:], v)
	}
	for i, v := range base {
		binary.BigEndian.PutUint32(rec[huffHeaderLen+cacheDataLen+i*4:], v)
	}
	return rec
}

// identityCache builds a cache table where every 8-bit prefix is a
// terminal 8-bit code decoding to its own value: for prefix b the
// stored sum is 2b, so code = 2b - b = b.
func identityCache() *[cacheEntries]uint32 {
	var cache [cacheEntries]uint32
	for b := 0; b < cacheEntries; b++ {
		cache[b] = uint32(2*b)<<8 | 0x80 | 8
	}
	return &cache
}

// buildCdicRecord assembles a CDIC record with an 8-bit code length.
// syms maps code slots to literal payloads; packed maps code slots to
// already-compressed payloads expanded by recursion.
func buildCdicRecord(syms map[int][]byte, packed map[int][]byte) []byte {
	const codeLen = 8
	slots := 1 << codeLen

	dict := make([]byte, slots*2)
	addPayload := func(slot int, data []byte, literal bool) {
		binary.BigEndian.PutUint16(dict[slot*2:], uint16(len(dict)))
		tag := uint16(len(data))
		if literal {
			tag |= 0x8000
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], tag)
		dict = append(dict, hdr[:]...)
		dict = append(dict, data...)
	}
	for slot, data := range syms {
		addPayload(slot, data, true)
	}
	for slot, data := range packed {
		addPayload(slot, data, false)
	}

	rec := make([]byte, cdicHeaderLen, cdicHeaderLen+len(dict))
	copy(rec, "CDIC")
	binary.BigEndian.PutUint32(rec[4:], cdicHeaderLen)
	binary.BigEndian.PutUint32(rec[12:], codeLen)
	return append(rec, dict...)
}

// identityDecompressor is loaded so that the code stream is simply the
// sequence of dictionary slot bytes: handy for readable tests.
func identityDecompressor(t *testing.T, syms map[int][]byte, packed map[int][]byte) *HuffDicDecompressor {
	t.Helper()
	d := NewHuffDicDecompressor(zap.NewNop())
	if err := d.SetHuffData(buildHuffRecord(identityCache(), &[baseEntries]uint32{})); err != nil {
		t.Fatal("SetHuffData failed:", err)
	}
	if err := d.AddCdicData(buildCdicRecord(syms, packed)); err != nil {
		t.Fatal("AddCdicData failed:", err)
	}
	return d
}

func TestHuffDicDecompress(t *testing.T) {
	// one single-byte literal per used slot: decoding reproduces the
	// source bytes themselves
	syms := make(map[int][]byte)
	for _, b := range []byte("Helo, MOBIwrd!") {
		syms[int(b)] = []byte{b}
	}
	d := identityDecompressor(t, syms, nil)

	src := []byte("Hello, MOBI world!")
	dst := make([]byte, len(src))
	n, err := d.Decompress(src, dst)
	if err != nil {
		t.Fatal("decompression failed:", err)
	}
	if !bytes.Equal(dst[:n], src) {
		t.Fatalf("got %q, want %q", dst[:n], src)
	}

	// decoding is deterministic and stateless per record
	n2, err := d.Decompress(src, dst)
	if err != nil || n2 != n {
		t.Fatalf("repeated decompression differs: n=%d err=%v", n2, err)
	}
}

func TestHuffDicMultiBytePayloads(t *testing.T) {
	syms := map[int][]byte{
		1: []byte("alpha "),
		2: []byte("beta "),
		3: []byte("gamma"),
	}
	d := identityDecompressor(t, syms, nil)

	dst := make([]byte, 64)
	n, err := d.Decompress([]byte{1, 2, 3}, dst)
	if err != nil {
		t.Fatal("decompression failed:", err)
	}
	if string(dst[:n]) != "alpha beta gamma" {
		t.Fatalf("got %q", dst[:n])
	}
}

func TestHuffDicRecursiveExpansion(t *testing.T) {
	// slot 9 holds a compressed payload whose expansion decodes
	// through the same table
	syms := map[int][]byte{
		'a': []byte("a"),
		'b': []byte("b"),
	}
	packed := map[int][]byte{
		9: []byte("abba"),
	}
	d := identityDecompressor(t, syms, packed)

	dst := make([]byte, 16)
	n, err := d.Decompress([]byte{'a', 9, 'b'}, dst)
	if err != nil {
		t.Fatal("decompression failed:", err)
	}
	if string(dst[:n]) != "aabbab" {
		t.Fatalf("got %q, want %q", dst[:n], "aabbab")
	}
}

func TestHuffDicBaseTableWalk(t *testing.T) {
	// prefix 0xAB resolves through the base table as a 12-bit code:
	// floor at length 12 is zero, so the first probe matches and the
	// stored sum maps the 12-bit window 0xABC to slot 5
	cache := identityCache()
	cache[0xab] = 12 // non-terminal, candidate length 12

	var base [baseEntries]uint32
	base[23] = 0xabc + 5

	d := NewHuffDicDecompressor(zap.NewNop())
	if err := d.SetHuffData(buildHuffRecord(cache, &base)); err != nil {
		t.Fatal("SetHuffData failed:", err)
	}
	if err := d.AddCdicData(buildCdicRecord(map[int][]byte{5: []byte("Z")}, nil)); err != nil {
		t.Fatal("AddCdicData failed:", err)
	}

	dst := make([]byte, 4)
	n, err := d.Decompress([]byte{0xab, 0xc0}, dst)
	if err != nil {
		t.Fatal("decompression failed:", err)
	}
	if string(dst[:n]) != "Z" {
		t.Fatalf("got %q, want %q", dst[:n], "Z")
	}
}

func TestHuffDicInvalidDictIndex(t *testing.T) {
	cache := identityCache()
	// prefix 0xff decodes to code 300: dictionary index 1 with only
	// one dictionary loaded
	cache[0xff] = uint32(0xff+300)<<8 | 0x80 | 8

	d := NewHuffDicDecompressor(zap.NewNop())
	if err := d.SetHuffData(buildHuffRecord(cache, &[baseEntries]uint32{})); err != nil {
		t.Fatal("SetHuffData failed:", err)
	}
	if err := d.AddCdicData(buildCdicRecord(map[int][]byte{1: []byte("x")}, nil)); err != nil {
		t.Fatal("AddCdicData failed:", err)
	}

	dst := make([]byte, 4)
	if _, err := d.Decompress([]byte{0xff, 0x01}, dst); !errors.Is(err, ErrInvalidDict) {
		t.Fatal("expected ErrInvalidDict, got:", err)
	}
}

func TestHuffDicCorruptTable(t *testing.T) {
	cache := identityCache()
	cache['x'] = 0 // zero code length

	d := NewHuffDicDecompressor(zap.NewNop())
	if err := d.SetHuffData(buildHuffRecord(cache, &[baseEntries]uint32{})); err != nil {
		t.Fatal("SetHuffData failed:", err)
	}
	if err := d.AddCdicData(buildCdicRecord(map[int][]byte{'x': []byte("x")}, nil)); err != nil {
		t.Fatal("AddCdicData failed:", err)
	}

	dst := make([]byte, 4)
	if _, err := d.Decompress([]byte{'x'}, dst); !errors.Is(err, ErrCorruptTable) {
		t.Fatal("expected ErrCorruptTable, got:", err)
	}
}

func TestHuffDicTrailingBits(t *testing.T) {
	// 3-bit identity codes: every code is the top three bits of the
	// window. One source byte holds two whole codes plus two leftover
	// nonzero bits that cannot form a third - padding, not an error.
	var cache [cacheEntries]uint32
	for b := 0; b < cacheEntries; b++ {
		cache[b] = uint32(2*(b>>5))<<8 | 0x80 | 3
	}
	d := NewHuffDicDecompressor(zap.NewNop())
	if err := d.SetHuffData(buildHuffRecord(&cache, &[baseEntries]uint32{})); err != nil {
		t.Fatal("SetHuffData failed:", err)
	}
	if err := d.AddCdicData(buildCdicRecord(map[int][]byte{5: []byte("x")}, nil)); err != nil {
		t.Fatal("AddCdicData failed:", err)
	}

	dst := make([]byte, 4)
	n, err := d.Decompress([]byte{0xb7}, dst) // 101 101 11
	if err != nil {
		t.Fatal("decompression failed:", err)
	}
	if string(dst[:n]) != "xx" {
		t.Fatalf("got %q, want %q", dst[:n], "xx")
	}
}

func TestHuffDicDstExhaustion(t *testing.T) {
	d := identityDecompressor(t, map[int][]byte{'q': []byte("qqqq")}, nil)
	dst := make([]byte, 5)
	if _, err := d.Decompress([]byte("qq"), dst); !errors.Is(err, ErrDstFull) {
		t.Fatal("expected ErrDstFull, got:", err)
	}
}

func TestHuffDicRecordValidation(t *testing.T) {
	d := NewHuffDicDecompressor(zap.NewNop())

	if err := d.SetHuffData([]byte("HUFF")); !errors.Is(err, ErrBadHuffRecord) {
		t.Fatal("short HUFF record accepted:", err)
	}
	bad := buildHuffRecord(identityCache(), &[baseEntries]uint32{})
	copy(bad, "HUFX")
	if err := d.SetHuffData(bad); !errors.Is(err, ErrBadHuffRecord) {
		t.Fatal("bad HUFF magic accepted:", err)
	}

	if err := d.SetHuffData(buildHuffRecord(identityCache(), &[baseEntries]uint32{})); err != nil {
		t.Fatal("SetHuffData failed:", err)
	}

	cdic := buildCdicRecord(map[int][]byte{'a': []byte("a")}, nil)
	copy(cdic, "CDIX")
	if err := d.AddCdicData(cdic); !errors.Is(err, ErrBadCdicRecord) {
		t.Fatal("bad CDIC magic accepted:", err)
	}

	// dictionary too small to address every code value
	small := make([]byte, cdicHeaderLen+10)
	copy(small, "CDIC")
	binary.BigEndian.PutUint32(small[4:], cdicHeaderLen)
	binary.BigEndian.PutUint32(small[12:], 8)
	if err := d.AddCdicData(small); !errors.Is(err, ErrBadCdicRecord) {
		t.Fatal("undersized CDIC accepted:", err)
	}

	// code length changing between dictionaries
	if err := d.AddCdicData(buildCdicRecord(map[int][]byte{'a': []byte("a")}, nil)); err != nil {
		t.Fatal("AddCdicData failed:", err)
	}
	other := buildCdicRecord(map[int][]byte{'a': []byte("a")}, nil)
	binary.BigEndian.PutUint32(other[12:], 9)
	if err := d.AddCdicData(other); !errors.Is(err, ErrBadCdicRecord) {
		t.Fatal("mismatched code length accepted:", err)
	}
}
