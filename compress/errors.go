package compress

import (
	"errors"
)

var (
	ErrDstFull       = errors.New("destination buffer exhausted")
	ErrSrcTruncated  = errors.New("compressed data ends unexpectedly")
	ErrBackReference = errors.New("back-reference before start of output")
	ErrCorruptTable  = errors.New("corrupted huffman table, zero code length")
	ErrCodeTooLong   = errors.New("huffman code length over 32 bits")
	ErrBadHuffRecord = errors.New("malformed HUFF record")
	ErrBadCdicRecord = errors.New("malformed CDIC record")
	ErrTooManyCdics  = errors.New("too many CDIC records")
	ErrInvalidDict   = errors.New("invalid dictionary index")
	ErrInvalidOffset = errors.New("invalid dictionary offset")
	ErrSymbolTooLong = errors.New("dictionary symbol too long")
	ErrNestedTooDeep = errors.New("dictionary expansion nested too deep")
)
