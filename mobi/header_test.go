package mobi

import (
	"encoding/binary"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestParsePalmDocHeader(t *testing.T) {
	rec0 := make([]byte, palmDocHeaderLen)
	binary.BigEndian.PutUint16(rec0[0:], uint16(CompressionPalmDoc))
	binary.BigEndian.PutUint32(rec0[4:], 12345)
	binary.BigEndian.PutUint16(rec0[8:], 4)
	binary.BigEndian.PutUint16(rec0[10:], 4096)
	binary.BigEndian.PutUint32(rec0[12:], 777)

	// plain PalmDOC flavor: the union tail is a cursor position
	h, err := parsePalmDocHeader(rec0, false)
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if h.Compression != CompressionPalmDoc || h.UncompressedSize != 12345 ||
		h.RecordCount != 4 || h.MaxRecordSize != 4096 {
		t.Fatalf("bad header: %+v", h)
	}
	if h.CurrPos != 777 || h.Encryption != 0 {
		t.Fatalf("union decoded for wrong flavor: %+v", h)
	}

	// MOBI flavor: the same bytes decode as encryption fields
	binary.BigEndian.PutUint16(rec0[12:], EncryptionNone)
	binary.BigEndian.PutUint16(rec0[14:], 0)
	if h, err = parsePalmDocHeader(rec0, true); err != nil {
		t.Fatal("parse failed:", err)
	}
	if h.Encryption != EncryptionNone || h.CurrPos != 0 {
		t.Fatalf("union decoded for wrong flavor: %+v", h)
	}

	binary.BigEndian.PutUint16(rec0[12:], EncryptionNew)
	if _, err = parsePalmDocHeader(rec0, true); !errors.Is(err, ErrEncrypted) {
		t.Fatal("expected ErrEncrypted, got:", err)
	}

	binary.BigEndian.PutUint16(rec0[0:], 99)
	if _, err := parsePalmDocHeader(rec0, false); !errors.Is(err, ErrCompression) {
		t.Fatal("expected ErrCompression, got:", err)
	}
}

func TestParseMobiHeaderLengths(t *testing.T) {
	region := make([]byte, 232)
	copy(region, "MOBI")
	binary.BigEndian.PutUint32(region[ofsHdrLen:], 232)
	binary.BigEndian.PutUint32(region[ofsLocale:], 1033)
	binary.BigEndian.PutUint16(region[ofsExtraDataFlags:], 0x0003)

	h, err := parseMobiHeader(region)
	if err != nil {
		t.Fatal("parse failed:", err)
	}
	if h.Locale != 1033 || h.ExtraDataFlags != 3 {
		t.Fatalf("bad header: %+v", h)
	}

	// a shorter declared length leaves uncovered fields zero, even
	// when the record itself has more bytes
	binary.BigEndian.PutUint32(region[ofsHdrLen:], 24)
	if h, err = parseMobiHeader(region); err != nil {
		t.Fatal("parse failed:", err)
	}
	if h.Locale != 0 || h.ExtraDataFlags != 0 {
		t.Fatalf("fields beyond hdrLen not zeroed: %+v", h)
	}

	// declared length beyond the record is an error
	binary.BigEndian.PutUint32(region[ofsHdrLen:], 500)
	if _, err := parseMobiHeader(region); !errors.Is(err, ErrBadMobiHeader) {
		t.Fatal("expected ErrBadMobiHeader, got:", err)
	}

	copy(region, "MOBX")
	if _, err := parseMobiHeader(region); !errors.Is(err, ErrBadMobiHeader) {
		t.Fatal("expected ErrBadMobiHeader, got:", err)
	}
}

func TestTrailerPolicy(t *testing.T) {
	for _, tc := range []struct {
		flags     uint16
		trailers  int
		multibyte bool
	}{
		{0x0000, 0, false},
		{0x0001, 0, true},
		{0x0002, 1, false},
		{0x000b, 2, true}, // bits 0, 1 and 3
		{0x8002, 2, false},
	} {
		h := &MobiHeader{ExtraDataFlags: tc.flags}
		trailers, multibyte := h.trailerPolicy()
		if trailers != tc.trailers || multibyte != tc.multibyte {
			t.Errorf("flags %#x: got %d/%v, want %d/%v",
				tc.flags, trailers, multibyte, tc.trailers, tc.multibyte)
		}
	}
}

func TestExtraDataSize(t *testing.T) {
	// two trailers: a 3-byte and a 2-byte one, each declaring its own
	// total size in its final byte
	rec := append([]byte("DATA"), 0x01, 0x02, 0x83, 0x05, 0x82)
	extra, err := extraDataSize(rec, 2, false)
	if err != nil {
		t.Fatal("extraDataSize failed:", err)
	}
	if extra != 5 {
		t.Fatal("stripped wrong trailer size:", extra)
	}

	// multibyte tail: last remaining byte is 'A' (0x41), low 2 bits
	// give one extra byte, so two bytes total
	extra, err = extraDataSize(rec, 2, true)
	if err != nil {
		t.Fatal("extraDataSize failed:", err)
	}
	if extra != 7 {
		t.Fatal("stripped wrong multibyte tail:", extra)
	}

	// trailer bigger than the record
	if _, err := extraDataSize([]byte{0x00, 0x00, 0x00, 0x90}, 1, false); !errors.Is(err, ErrTrailingData) {
		t.Fatal("expected ErrTrailingData, got:", err)
	}
}

func TestExthStrings(t *testing.T) {
	log := zap.NewNop()

	region := make([]byte, exthHeaderLen, 64)
	copy(region, "EXTH")
	addRec := func(typ uint32, payload []byte) {
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[0:], typ)
		binary.BigEndian.PutUint32(hdr[4:], uint32(8+len(payload)))
		region = append(region, hdr[:]...)
		region = append(region, payload...)
	}
	addRec(exthAuthor, []byte("Some Author\x00"))
	addRec(exthPublisher, []byte("No Terminator Press")) // unterminated, still used
	addRec(999, []byte{0xde, 0xad})                      // unknown type, skipped by length
	addRec(exthCoverOffset, []byte{0, 0, 0, 2})
	binary.BigEndian.PutUint32(region[4:], uint32(len(region)))
	binary.BigEndian.PutUint32(region[8:], 4)

	meta := Metadata{CoverIndex: -1}
	if err := parseExth(region, &meta, log); err != nil {
		t.Fatal("parseExth failed:", err)
	}
	if meta.Author != "Some Author" {
		t.Fatal("bad author:", meta.Author)
	}
	if meta.Publisher != "No Terminator Press" {
		t.Fatal("bad publisher:", meta.Publisher)
	}
	if meta.CoverIndex != 2 {
		t.Fatal("bad cover index:", meta.CoverIndex)
	}

	// truncated record list
	binary.BigEndian.PutUint32(region[8:], 40)
	if err := parseExth(region, &meta, log); !errors.Is(err, ErrBadExthHeader) {
		t.Fatal("expected ErrBadExthHeader, got:", err)
	}
}

func TestImageDetection(t *testing.T) {
	for _, tc := range []struct {
		data []byte
		typ  ImageType
	}{
		{[]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}, ImageJPEG},
		{[]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}, ImagePNG},
		{[]byte("GIF89a"), ImageGIF},
		{[]byte("whatever"), ImageUnknown},
	} {
		if got := detectImageType(tc.data); got != tc.typ {
			t.Errorf("detectImageType(% x) = %v, want %v", tc.data[:4], got, tc.typ)
		}
	}

	if !isEofRecord([]byte{0xe9, 0x8e, 0x0d, 0x0a}) {
		t.Fatal("EOF record not recognized")
	}
	if isEofRecord([]byte{0xe9, 0x8e, 0x0d, 0x0a, 0x00}) {
		t.Fatal("EOF record must be exactly 4 bytes")
	}
	if !isKnownNonImageRecord([]byte("FLIS....")) || !isKnownNonImageRecord([]byte("SRCS")) {
		t.Fatal("known auxiliary record not recognized")
	}
	if isKnownNonImageRecord([]byte("JUNK")) {
		t.Fatal("unknown record treated as auxiliary")
	}
}
