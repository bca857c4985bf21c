// Package mobi decodes MOBI/PalmDOC e-books: record 0 headers, EXTH
// metadata, the compressed document record stream and the embedded
// image records.
//
// Much of the knowledge of the format internals comes from
// https://wiki.mobileread.com/wiki/MOBI and the KindleUnpack project.
package mobi

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"demobi/compress"
	"demobi/pdb"
)

// decompressed document records are nominally at most 4096 bytes;
// leave generous slack for broken producers
const decompBufLen = 6000

const maxCdics = 32

type bookState int

const (
	stateHeaderParsed bookState = iota
	stateLoaded
	stateFailed
)

// Book is a parsed e-book. Open reads every header and fixes the codec;
// Load then assembles the document byte stream and the image set. All
// getters return read-only views owned by the Book.
type Book struct {
	log       *zap.Logger
	container *pdb.Container
	state     bookState

	pdh  *PalmDocHeader
	mh   *MobiHeader // nil for plain (non-extended) documents
	meta Metadata

	huffDic   *compress.HuffDicDecompressor
	trailers  int
	multibyte bool

	imageFirstRec int
	imagesCount   int

	doc    []byte
	images []Image
}

// Open opens the file at path and parses all headers. On success the
// compression codec is fixed for the book's lifetime; call Load to
// decode the content.
func Open(path string, log *zap.Logger) (*Book, error) {
	container, err := pdb.OpenFile(path)
	if err != nil {
		return nil, err
	}
	b, err := newBook(container, log)
	if err != nil {
		container.Close()
		return nil, err
	}
	return b, nil
}

// OpenReaderAt parses a book from any byte-addressable resource. The
// caller keeps ownership of src and must not touch it until Close.
func OpenReaderAt(src io.ReaderAt, size int64, log *zap.Logger) (*Book, error) {
	container, err := pdb.Open(src, size)
	if err != nil {
		return nil, err
	}
	return newBook(container, log)
}

func newBook(container *pdb.Container, log *zap.Logger) (*Book, error) {
	b := &Book{
		log:       log.Named("mobi-reader"),
		container: container,
		meta:      Metadata{CoverIndex: -1},
	}
	if err := b.parseHeader(); err != nil {
		return nil, err
	}
	return b, nil
}

// Close releases the underlying container resource.
func (b *Book) Close() error {
	return b.container.Close()
}

func (b *Book) parseHeader() error {
	if !b.container.IsMobi() && !b.container.IsPalmDoc() {
		return fmt.Errorf("%w: %q", ErrUnknownType, b.container.TypeCreator())
	}
	mobiFlavor := b.container.IsMobi()

	raw, err := b.container.ReadRecord(0)
	if err != nil {
		return err
	}
	// record reads reuse one scratch buffer and record 0 is referenced
	// throughout parsing, while HUFF/CDIC loading reads more records
	rec0 := make([]byte, len(raw))
	copy(rec0, raw)

	if b.pdh, err = parsePalmDocHeader(rec0, mobiFlavor); err != nil {
		return err
	}

	if len(rec0)-palmDocHeaderLen < mobiHeaderMinLen {
		// plain document: no extended header, no metadata, no images.
		// HUFF/CDIC records can only be located through the extended
		// header, so huffcdic compression cannot appear here.
		if b.pdh.Compression == CompressionHuffCdic {
			return fmt.Errorf("%w: no extended header to locate HUFF records", ErrBadHuffman)
		}
		return nil
	}

	region := rec0[mobiHeaderBase:]
	if b.mh, err = parseMobiHeader(region); err != nil {
		return err
	}
	b.meta.Locale = b.mh.Locale

	if b.mh.FullNameLen > 0 {
		// sum in 64 bits, the declared fields can wrap uint32
		end := int64(b.mh.FullNameOffset) + int64(b.mh.FullNameLen)
		if end > int64(len(rec0)) {
			return fmt.Errorf("%w: full name beyond record 0", ErrBadMobiHeader)
		}
		b.meta.Title = string(rec0[b.mh.FullNameOffset:end])
	}

	numRecords := b.container.NumRecords()
	if first := int(b.mh.ImageFirstRec); first > 0 && first < numRecords {
		b.imageFirstRec = first
		b.imagesCount = int(b.mh.LastContentRec) - first + 1
		if b.imagesCount < 0 {
			b.imagesCount = 0
		}
		if b.imageFirstRec+b.imagesCount > numRecords {
			b.imagesCount = numRecords - b.imageFirstRec
		}
	}

	b.trailers, b.multibyte = b.mh.trailerPolicy()

	if b.mh.ExthFlags&exthPresentFlag != 0 {
		exthStart := mobiHeaderBase + int(b.mh.HdrLen)
		if err := parseExth(rec0[exthStart:], &b.meta, b.log); err != nil {
			return err
		}
	}

	if b.pdh.Compression == CompressionHuffCdic {
		if err := b.loadHuffDic(); err != nil {
			return err
		}
	}

	b.log.Debug("Book headers parsed",
		zap.Stringer("compression", b.pdh.Compression),
		zap.Uint32("uncompressedSize", b.pdh.UncompressedSize),
		zap.Uint16("docRecords", b.pdh.RecordCount),
		zap.Int("trailers", b.trailers),
		zap.Bool("multibyte", b.multibyte),
		zap.Int("imageRecords", b.imagesCount))
	return nil
}

func (b *Book) loadHuffDic() error {
	if b.mh.HuffmanRecCount < 1 {
		return fmt.Errorf("%w: no HUFF record declared", ErrBadHuffman)
	}
	cdicsCount := int(b.mh.HuffmanRecCount) - 1
	if cdicsCount > maxCdics {
		return fmt.Errorf("%w: %d CDIC records", ErrBadHuffman, cdicsCount)
	}

	b.huffDic = compress.NewHuffDicDecompressor(b.log)
	rec, err := b.container.ReadRecord(int(b.mh.HuffmanFirstRec))
	if err != nil {
		return err
	}
	if err := b.huffDic.SetHuffData(rec); err != nil {
		return err
	}
	for i := 0; i < cdicsCount; i++ {
		if rec, err = b.container.ReadRecord(int(b.mh.HuffmanFirstRec) + 1 + i); err != nil {
			return err
		}
		if err := b.huffDic.AddCdicData(rec); err != nil {
			return err
		}
	}
	return nil
}

// Load decodes the document records into the final byte stream and
// extracts the image records. Any failure is terminal for the book: no
// partial document is ever kept.
func (b *Book) Load() (err error) {
	if b.state != stateHeaderParsed {
		return fmt.Errorf("%w: book already loaded", ErrWrongState)
	}
	defer func(start time.Time) {
		if err != nil {
			b.state = stateFailed
			b.doc = nil
			b.images = nil
			return
		}
		b.state = stateLoaded
		b.log.Debug("Book loaded",
			zap.Int("documentBytes", len(b.doc)),
			zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	if err = b.loadDocument(); err != nil {
		return err
	}
	return b.loadImages()
}

func (b *Book) loadDocument() error {
	b.doc = make([]byte, 0, b.pdh.UncompressedSize)

	var decompBuf []byte
	if b.pdh.Compression != CompressionNone {
		decompBuf = make([]byte, decompBufLen)
	}

	for i := 1; i <= int(b.pdh.RecordCount); i++ {
		rec, err := b.container.ReadRecord(i)
		if err != nil {
			return err
		}
		extra, err := extraDataSize(rec, b.trailers, b.multibyte)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		rec = rec[:len(rec)-extra]

		switch b.pdh.Compression {
		case CompressionNone:
			b.doc = append(b.doc, rec...)
		case CompressionPalmDoc:
			n, err := compress.DecompressPalmDoc(rec, decompBuf)
			if err != nil {
				return fmt.Errorf("palmdoc decompression of record %d failed: %w", i, err)
			}
			b.doc = append(b.doc, decompBuf[:n]...)
		case CompressionHuffCdic:
			n, err := b.huffDic.Decompress(rec, decompBuf)
			if err != nil {
				return fmt.Errorf("huffcdic decompression of record %d failed: %w", i, err)
			}
			b.doc = append(b.doc, decompBuf[:n]...)
		}
	}

	if len(b.doc) != int(b.pdh.UncompressedSize) {
		return fmt.Errorf("%w: got %d bytes, declared %d", ErrSizeMismatch, len(b.doc), b.pdh.UncompressedSize)
	}
	return nil
}

// loadImages scans the image record range. A recognized end-of-file
// record stops the scan without error; known auxiliary records leave an
// empty slot; anything else is classified by its magic bytes.
func (b *Book) loadImages() error {
	if b.imagesCount == 0 {
		return nil
	}
	b.images = make([]Image, b.imagesCount)
	for i := 0; i < b.imagesCount; i++ {
		rec, err := b.container.ReadRecord(b.imageFirstRec + i)
		if err != nil {
			return err
		}
		if len(rec) == 0 {
			continue
		}
		if isEofRecord(rec) {
			break
		}
		if isKnownNonImageRecord(rec) {
			continue
		}
		data := make([]byte, len(rec))
		copy(data, rec)
		b.images[i] = Image{Data: data, Type: detectImageType(data)}
	}
	return nil
}

// Text returns the assembled document byte stream. Only valid after a
// successful Load; the caller must treat it as read-only.
func (b *Book) Text() []byte {
	if b.state != stateLoaded {
		return nil
	}
	return b.doc
}

// Metadata returns the bibliographic fields collected from the headers.
func (b *Book) Metadata() Metadata {
	return b.meta
}

// TextEncoding returns the declared text encoding code page (65001 for
// UTF-8), or 0 for plain documents that do not declare one.
func (b *Book) TextEncoding() uint32 {
	if b.mh == nil {
		return 0
	}
	return b.mh.TextEncoding
}

// ImagesCount returns the size of the image record range.
func (b *Book) ImagesCount() int {
	return b.imagesCount
}

// Image returns the image with the given 1-based reference index, the
// convention used by recindex attributes inside the document. Returns
// nil for out-of-range indexes and empty slots.
func (b *Book) Image(recIndex int) *Image {
	if b.state != stateLoaded || recIndex < 1 || recIndex > len(b.images) {
		return nil
	}
	img := &b.images[recIndex-1]
	if len(img.Data) == 0 {
		return nil
	}
	return img
}

// Cover returns the cover image. An explicit EXTH-declared index wins;
// without one a heuristic picks the larger of the first two images,
// which tend to be the same cover at different resolutions.
func (b *Book) Cover() *Image {
	if b.state != stateLoaded || len(b.images) == 0 {
		return nil
	}
	if ci := b.meta.CoverIndex; ci >= 0 && ci < len(b.images) && len(b.images[ci].Data) > 0 {
		return &b.images[ci]
	}

	b.log.Warn("No usable cover index declared, falling back to first-images heuristic")
	best := -1
	for i := 0; i < len(b.images) && i < 2; i++ {
		if len(b.images[i].Data) == 0 {
			continue
		}
		if best < 0 || len(b.images[i].Data) > len(b.images[best].Data) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return &b.images[best]
}

// extraDataSize computes how many trailing auxiliary bytes to strip
// from a document record: trailers variable-length entries (7 bits per
// byte, high bit starts a value, read from the record end backward),
// then when multibyte is set one small tail sized by the low 2 bits of
// the last remaining byte.
func extraDataSize(rec []byte, trailers int, multibyte bool) (int, error) {
	newLen := len(rec)
	for i := 0; i < trailers; i++ {
		if newLen < 4 {
			return 0, ErrTrailingData
		}
		n := 0
		for j := 0; j < 4; j++ {
			v := rec[newLen-4+j]
			if v&0x80 != 0 {
				n = 0
			}
			n = n<<7 | int(v&0x7f)
		}
		if n >= newLen {
			return 0, ErrTrailingData
		}
		newLen -= n
	}
	if multibyte {
		if newLen == 0 {
			return 0, ErrTrailingData
		}
		n := int(rec[newLen-1]&3) + 1
		if n > newLen {
			return 0, ErrTrailingData
		}
		newLen -= n
	}
	return len(rec) - newLen, nil
}
