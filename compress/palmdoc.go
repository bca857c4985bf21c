package compress

// PalmDOC compression: a byte-code dispatched mix of literal runs,
// self-representing bytes, space+char pairs and LZ77 back-references.
// See https://wiki.mobileread.com/wiki/PalmDOC

// DecompressPalmDoc decompresses one PalmDOC record from src into dst
// and returns the number of bytes written. dst capacity bounds the
// output; running out of it is an error, not a truncation.
func DecompressPalmDoc(src, dst []byte) (int, error) {
	var sp, dp int
	for sp < len(src) {
		if dp >= len(dst) {
			return 0, ErrDstFull
		}
		c := src[sp]
		sp++
		switch {
		case c >= 1 && c <= 8:
			// copy the next c bytes verbatim
			n := int(c)
			if sp+n > len(src) {
				return 0, ErrSrcTruncated
			}
			if dp+n > len(dst) {
				return 0, ErrDstFull
			}
			copy(dst[dp:], src[sp:sp+n])
			sp += n
			dp += n
		case c < 128:
			dst[dp] = c
			dp++
		case c >= 192:
			if dp+2 > len(dst) {
				return 0, ErrDstFull
			}
			dst[dp] = ' '
			dst[dp+1] = c ^ 0x80
			dp += 2
		default:
			// 11-bit distance, 3-bit length back-reference pair
			if sp >= len(src) {
				return 0, ErrSrcTruncated
			}
			code := uint16(c)<<8 | uint16(src[sp])
			sp++
			back := int(code>>3) & 0x7ff
			n := int(code&7) + 3
			if back < 1 || back > dp {
				return 0, ErrBackReference
			}
			if dp+n > len(dst) {
				return 0, ErrDstFull
			}
			// byte-by-byte so overlapping copies replicate
			for ; n > 0; n-- {
				dst[dp] = dst[dp-back]
				dp++
			}
		}
	}
	return dp, nil
}
