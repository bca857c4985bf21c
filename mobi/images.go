package mobi

import (
	"bytes"
)

// ImageType tags the detected format of an extracted image record.
type ImageType int

const (
	ImageUnknown ImageType = iota // unrecognized, kept as generic binary
	ImageJPEG
	ImagePNG
	ImageGIF
)

// Ext returns the conventional file extension for the type.
func (t ImageType) Ext() string {
	switch t {
	case ImageJPEG:
		return ".jpg"
	case ImagePNG:
		return ".png"
	case ImageGIF:
		return ".gif"
	default:
		return ".bin"
	}
}

func (t ImageType) String() string {
	switch t {
	case ImageJPEG:
		return "jpeg"
	case ImagePNG:
		return "png"
	case ImageGIF:
		return "gif"
	default:
		return "binary"
	}
}

// Image is one raster record extracted from the image record range.
type Image struct {
	Data []byte
	Type ImageType
}

var (
	jpegMagic = []byte{0xff, 0xd8, 0xff, 0xe0}
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	gifMagic  = []byte("GIF8")
)

func detectImageType(data []byte) ImageType {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return ImageJPEG
	case bytes.HasPrefix(data, pngMagic):
		return ImagePNG
	case bytes.HasPrefix(data, gifMagic):
		return ImageGIF
	default:
		return ImageUnknown
	}
}

// Auxiliary records that share the image record range but are not
// images. The EOF record ends the range; the others are skipped.
const (
	eofRecSig  = 0xe98e0d0a
	flisRecSig = 0x464c4953 // 'FLIS'
	fcisRecSig = 0x46434953 // 'FCIS'
	fdstRecSig = 0x46445354 // 'FDST'
	datpRecSig = 0x44415450 // 'DATP'
	srcsRecSig = 0x53524353 // 'SRCS'
	videRecSig = 0x56494445 // 'VIDE'
)

// sigUpToFour packs the first up to four bytes of data big-endian,
// matching how record signatures are declared above.
func sigUpToFour(data []byte) uint32 {
	var v uint32
	for i := 0; i < 4 && i < len(data); i++ {
		v = v<<8 | uint32(data[i])
	}
	return v
}

func isEofRecord(data []byte) bool {
	return len(data) == 4 && sigUpToFour(data) == eofRecSig
}

func isKnownNonImageRecord(data []byte) bool {
	switch sigUpToFour(data) {
	case flisRecSig, fcisRecSig, fdstRecSig, datpRecSig, srcsRecSig, videRecSig:
		return true
	}
	return false
}
