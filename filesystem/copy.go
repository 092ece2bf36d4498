package filesystem

import (
	"context"
	"errors"
	"io"
)

// CopyChunked copies src to dst through a single chunkSize buffer, so peak
// memory stays bounded regardless of the stream length. ctx is checked before
// every chunk; on cancellation the bytes already written stay written.
//
// Unlike io.CopyBuffer it never hands off to ReaderFrom/WriterTo, which would
// bypass the buffer size.
func CopyChunked(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		return 0, errors.New("chunk size must be positive")
	}
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
