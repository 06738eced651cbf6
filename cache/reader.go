package cache

import (
	"context"
	"io"
	"os"
)

// ItemReader is returned by Item.GetLocalReader. Length reports the full
// remote object size even while the underlying Item is still downloading.
type ItemReader interface {
	io.ReadCloser
	Length() int64
}

// plainReader serves a finished, static download. It never blocks.
type plainReader struct {
	f      *os.File
	length int64
}

func (r *plainReader) Read(p []byte) (int, error) { return r.f.Read(p) }
func (r *plainReader) Close() error                { return r.f.Close() }
func (r *plainReader) Length() int64               { return r.length }

// tailingReader serves bytes of an Item that is still Active, blocking
// when it catches up to the bytes written so far and waking on the
// Item's progress notifier. It is grounded on rclone's vfscache
// downloader, which uses the same rearmable kick-channel pattern to let
// readers tail an in-progress download.
type tailingReader struct {
	item   *Item
	f      *os.File
	length int64
	pos    int64
}

func (r *tailingReader) Length() int64 { return r.length }
func (r *tailingReader) Close() error  { return r.f.Close() }

// Read implements io.Reader using a background context; callers that can
// supply a request-scoped context (e.g. httpd, to honor client
// disconnects) should call ReadContext directly instead.
func (r *tailingReader) Read(p []byte) (int, error) {
	return r.ReadContext(context.Background(), p)
}

func (r *tailingReader) ReadContext(ctx context.Context, p []byte) (int, error) {
	for {
		n, err := r.f.Read(p)
		if n > 0 {
			r.pos += int64(n)
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		r.item.mu.Lock()
		state := r.item.state
		avail := r.item.availableLength
		// Take the channel while holding the Item lock: once the notifier
		// is replaced and fired, its C returns a channel nobody closes.
		var wake <-chan struct{}
		if sig := r.item.progress; sig != nil {
			wake = sig.C()
		}
		r.item.mu.Unlock()

		if r.pos < avail {
			// Bytes landed in the file between our read and this check.
			continue
		}
		switch state {
		case StateDownloaded:
			return 0, io.EOF
		case StateActive:
			if wake == nil {
				return 0, io.ErrUnexpectedEOF
			}
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		case StateCreated:
			// The transfer failed and was reset for retry.
			return 0, io.ErrUnexpectedEOF
		default:
			return 0, ErrInvalidState
		}
	}
}
