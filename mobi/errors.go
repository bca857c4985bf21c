package mobi

import (
	"errors"
)

var (
	ErrUnknownType   = errors.New("unknown container type/creator")
	ErrEncrypted     = errors.New("encrypted books are not supported")
	ErrCompression   = errors.New("unknown compression type")
	ErrBadMobiHeader = errors.New("malformed MOBI header")
	ErrBadExthHeader = errors.New("malformed EXTH header")
	ErrBadHuffman    = errors.New("malformed huffman compression setup")
	ErrTrailingData  = errors.New("record smaller than its trailing data")
	ErrSizeMismatch  = errors.New("document length does not match declared uncompressed size")
	ErrWrongState    = errors.New("operation not valid in current book state")
)
