package addon

import "io"

// limitedReader reads from r until n bytes were consumed, then fails with
// ErrResponseTooLarge instead of silently truncating like io.LimitReader.
type limitedReader struct {
	r io.Reader
	n int64
}

func newLimitedReader(r io.Reader, n int64) io.Reader {
	return &limitedReader{r: r, n: n}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		// Peek one byte to tell an exact-size body from an oversized one.
		var one [1]byte
		n, err := l.r.Read(one[:])
		if n > 0 {
			return 0, ErrResponseTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}
