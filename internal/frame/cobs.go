package frame

// Stuff byte-stuffs src into dst and appends the 0x00 delimiter. Each block
// is led by a count c: c-1 literal bytes follow, then an implicit zero. A
// count of 0xFF carries 254 literal bytes and no implicit zero, which keeps
// long non-zero runs free of spurious delimiters.
//
// dst must hold MaxStuffedLen(len(src)) bytes; otherwise ErrCapacity is
// returned and dst is left untouched.
func Stuff(dst, src []byte) (int, error) {
	if len(dst) < MaxStuffedLen(len(src)) {
		return 0, ErrCapacity
	}

	codeIdx := 0
	w := 1
	code := byte(1)
	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			code = 1
			codeIdx = w
			w++
			continue
		}
		dst[w] = b
		w++
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			code = 1
			codeIdx = w
			w++
		}
	}
	dst[codeIdx] = code
	dst[w] = Delimiter
	return w + 1, nil
}

// Unstuff reverses Stuff. src must not include the trailing delimiter; the
// receive loop strips it. A zero count byte, a block running past the end of
// src, or a full dst are reported as ErrZeroCode, ErrTruncated and
// ErrOutputFull. Unstuff never writes past len(dst).
func Unstuff(dst, src []byte) (int, error) {
	r, w := 0, 0
	for r < len(src) {
		code := src[r]
		r++
		if code == 0 {
			return w, ErrZeroCode
		}

		n := int(code) - 1
		if r+n > len(src) {
			return w, ErrTruncated
		}
		if w+n > len(dst) {
			return w, ErrOutputFull
		}
		w += copy(dst[w:], src[r:r+n])
		r += n

		// The last block carries no implicit zero.
		if code < 0xFF && r < len(src) {
			if w >= len(dst) {
				return w, ErrOutputFull
			}
			dst[w] = 0
			w++
		}
	}
	return w, nil
}
