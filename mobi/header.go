package mobi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

// Record 0 layout: a 16-byte PalmDOC sub-header, then for MOBI flavored
// containers the extended "MOBI" header sized by its own hdrLen field,
// then an optional "EXTH" metadata block.
// See https://wiki.mobileread.com/wiki/MOBI

// CompressionType identifies the codec used for document records.
type CompressionType uint16

const (
	CompressionNone     CompressionType = 1
	CompressionPalmDoc  CompressionType = 2
	CompressionHuffCdic CompressionType = 17480
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionPalmDoc:
		return "palmdoc"
	case CompressionHuffCdic:
		return "huffcdic"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

func (c CompressionType) valid() bool {
	return c == CompressionNone || c == CompressionPalmDoc || c == CompressionHuffCdic
}

// Encryption schemes. Only EncryptionNone is supported.
const (
	EncryptionNone = 0
	EncryptionOld  = 1
	EncryptionNew  = 2
)

const palmDocHeaderLen = 16

// PalmDocHeader is the fixed sub-header at the start of record 0. The
// last 4 wire bytes overlay a cursor position (plain PalmDOC) with
// encryption fields (MOBI); the container flavor selects which one was
// decoded, never a reinterpretation after the fact.
type PalmDocHeader struct {
	Compression      CompressionType
	UncompressedSize uint32
	RecordCount      uint16
	MaxRecordSize    uint16

	CurrPos    uint32 // plain PalmDOC flavor only
	Encryption uint16 // MOBI flavor only
}

func parsePalmDocHeader(rec0 []byte, mobiFlavor bool) (*PalmDocHeader, error) {
	if len(rec0) < palmDocHeaderLen {
		return nil, fmt.Errorf("%w: record 0 is %d bytes", ErrBadMobiHeader, len(rec0))
	}
	h := &PalmDocHeader{
		Compression:      CompressionType(binary.BigEndian.Uint16(rec0[0:])),
		UncompressedSize: binary.BigEndian.Uint32(rec0[4:]),
		RecordCount:      binary.BigEndian.Uint16(rec0[8:]),
		MaxRecordSize:    binary.BigEndian.Uint16(rec0[10:]),
	}
	if mobiFlavor {
		h.Encryption = binary.BigEndian.Uint16(rec0[12:])
	} else {
		h.CurrPos = binary.BigEndian.Uint32(rec0[12:])
	}
	if !h.Compression.valid() {
		return nil, fmt.Errorf("%w: %d", ErrCompression, uint16(h.Compression))
	}
	if mobiFlavor && h.Encryption != EncryptionNone {
		return nil, fmt.Errorf("%w: encryption type %d", ErrEncrypted, h.Encryption)
	}
	return h, nil
}

// field offsets inside the MOBI header region (relative to its "MOBI" magic)
const (
	mobiHeaderBase   = palmDocHeaderLen // where the region starts in record 0
	mobiHeaderMinLen = 8                // magic + hdrLen

	ofsHdrLen          = 4
	ofsDocType         = 8
	ofsTextEncoding    = 12
	ofsFormatVersion   = 20
	ofsFirstNonBookRec = 64
	ofsFullNameOffset  = 68
	ofsFullNameLen     = 72
	ofsLocale          = 76
	ofsImageFirstRec   = 92
	ofsHuffmanFirstRec = 96
	ofsHuffmanRecCount = 100
	ofsExthFlags       = 112
	ofsFirstContentRec = 176
	ofsLastContentRec  = 178
	ofsExtraDataFlags  = 226

	exthPresentFlag = 0x40

	// extraDataFlags is only declared when the header is long enough
	extraFlagsMinHdrLen = 228
)

// MobiHeader carries the extended header fields this reader consumes.
// Fields their hdrLen does not cover are left zero - the wire struct
// only upper-bounds what a given book declares.
type MobiHeader struct {
	HdrLen          uint32
	DocType         uint32
	TextEncoding    uint32
	FormatVersion   uint32
	FirstNonBookRec uint32
	FullNameOffset  uint32
	FullNameLen     uint32
	Locale          uint32
	ImageFirstRec   uint32
	HuffmanFirstRec uint32
	HuffmanRecCount uint32
	ExthFlags       uint32
	FirstContentRec uint16
	LastContentRec  uint16
	ExtraDataFlags  uint16
}

func parseMobiHeader(region []byte) (*MobiHeader, error) {
	if len(region) < mobiHeaderMinLen {
		return nil, fmt.Errorf("%w: %d bytes left in record 0", ErrBadMobiHeader, len(region))
	}
	if string(region[0:4]) != "MOBI" {
		return nil, fmt.Errorf("%w: id is not 'MOBI'", ErrBadMobiHeader)
	}
	h := &MobiHeader{HdrLen: binary.BigEndian.Uint32(region[ofsHdrLen:])}
	if int(h.HdrLen) > len(region) {
		return nil, fmt.Errorf("%w: declared length %d exceeds record 0", ErrBadMobiHeader, h.HdrLen)
	}

	// read each field only when the declared length covers it
	u32 := func(ofs uint32) uint32 {
		if ofs+4 > h.HdrLen {
			return 0
		}
		return binary.BigEndian.Uint32(region[ofs:])
	}
	u16 := func(ofs uint32) uint16 {
		if ofs+2 > h.HdrLen {
			return 0
		}
		return binary.BigEndian.Uint16(region[ofs:])
	}

	h.DocType = u32(ofsDocType)
	h.TextEncoding = u32(ofsTextEncoding)
	h.FormatVersion = u32(ofsFormatVersion)
	h.FirstNonBookRec = u32(ofsFirstNonBookRec)
	h.FullNameOffset = u32(ofsFullNameOffset)
	h.FullNameLen = u32(ofsFullNameLen)
	h.Locale = u32(ofsLocale)
	h.ImageFirstRec = u32(ofsImageFirstRec)
	h.HuffmanFirstRec = u32(ofsHuffmanFirstRec)
	h.HuffmanRecCount = u32(ofsHuffmanRecCount)
	h.ExthFlags = u32(ofsExthFlags)
	h.FirstContentRec = u16(ofsFirstContentRec)
	h.LastContentRec = u16(ofsLastContentRec)
	if h.HdrLen >= extraFlagsMinHdrLen {
		h.ExtraDataFlags = u16(ofsExtraDataFlags)
	}
	return h, nil
}

// trailerPolicy decodes extraDataFlags: bit 0 selects the multibyte
// trailing-byte rule, every other set bit adds one variable-length
// trailer to strip from each document record.
func (h *MobiHeader) trailerPolicy() (trailers int, multibyte bool) {
	flags := h.ExtraDataFlags
	multibyte = flags&1 != 0
	for flags > 1 {
		if flags&2 != 0 {
			trailers++
		}
		flags >>= 1
	}
	return trailers, multibyte
}

// EXTH metadata type codes we extract; everything else is skipped by
// its declared length.
const (
	exthAuthor      = 100
	exthPublisher   = 101
	exthCoverOffset = 201
	exthTitle       = 503
)

const exthHeaderLen = 12

// Metadata holds the bibliographic fields collected from the headers.
type Metadata struct {
	Title     string
	Author    string
	Publisher string
	Locale    uint32

	// CoverIndex is the EXTH-declared image number relative to the
	// first image record, -1 when the book does not declare one.
	CoverIndex int
}

// parseExth walks the (type, length, payload) records at region and
// fills the recognized fields of meta.
func parseExth(region []byte, meta *Metadata, log *zap.Logger) error {
	if len(region) < exthHeaderLen {
		return fmt.Errorf("%w: %d bytes left in record 0", ErrBadExthHeader, len(region))
	}
	if string(region[0:4]) != "EXTH" {
		return fmt.Errorf("%w: id is not 'EXTH'", ErrBadExthHeader)
	}
	recCount := binary.BigEndian.Uint32(region[8:])

	pos := exthHeaderLen
	for i := uint32(0); i < recCount; i++ {
		if pos+8 > len(region) {
			return fmt.Errorf("%w: record %d truncated", ErrBadExthHeader, i)
		}
		typ := binary.BigEndian.Uint32(region[pos:])
		length := int(binary.BigEndian.Uint32(region[pos+4:]))
		if length < 8 || pos+length > len(region) {
			return fmt.Errorf("%w: record %d has bad length %d", ErrBadExthHeader, i, length)
		}
		payload := region[pos+8 : pos+length]

		switch typ {
		case exthAuthor:
			meta.Author = exthString(typ, payload, log)
		case exthPublisher:
			meta.Publisher = exthString(typ, payload, log)
		case exthTitle:
			meta.Title = exthString(typ, payload, log)
		case exthCoverOffset:
			if len(payload) >= 4 {
				meta.CoverIndex = int(binary.BigEndian.Uint32(payload))
			}
		}
		pos += length
	}
	return nil
}

// exthString extracts a string payload bounded by its declared length,
// trimming at the first NUL. Payloads are nominally NUL-terminated; a
// missing terminator is worth a warning but not a failure.
func exthString(typ uint32, payload []byte, log *zap.Logger) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		return string(payload[:i])
	}
	log.Warn("EXTH string payload is not NUL-terminated", zap.Uint32("type", typ))
	return string(payload)
}
