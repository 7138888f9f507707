package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fetchkit/fetch/internal/recorder"
)

// pumpChunkSize is the read buffer size shared by every task's byte
// pump, grounded on the teacher's worker.go copy-buffer constant.
const pumpChunkSize = 64 * 1024

// pump drains body into rec starting at offset in pumpChunkSize chunks,
// invoking onBytes after each successful chunk is handed to the
// recorder. want is the exact byte count this pump must deliver for a
// bounded range (-1 for an open-ended range, where any length ending
// in EOF is accepted). It returns early with ctx.Err() if ctx is done
// between reads; io.EOF is translated to nil only once want is
// satisfied (spec.md §9: "treat an early end as success only if byte
// budget was satisfied").
func pump(ctx context.Context, body io.Reader, rec *recorder.Recorder, offset int64, want int64, onBytes func(n int)) error {
	buf := make([]byte, pumpChunkSize)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			at := offset
			if werr := rec.Add(buf[:n], &at); werr != nil {
				return werr
			}
			offset += int64(n)
			total += int64(n)
			if onBytes != nil {
				onBytes(n)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if want >= 0 && total != want {
					return fmt.Errorf("pump: range closed early: got %d bytes, want %d", total, want)
				}
				return nil
			}
			return err
		}
	}
}
