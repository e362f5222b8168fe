package keys

import (
	"bufio"
	"context"
	"iter"
	"time"
)

// Reader drives a Decoder from a byte stream, owning the backslash
// detection timer so callers just range over decoded keys.
type Reader struct {
	src *bufio.Reader
	dec *Decoder
}

func NewReader(src interface{ Read([]byte) (int, error) }) *Reader {
	return &Reader{src: bufio.NewReader(src), dec: NewDecoder()}
}

// Keys returns the decoded key stream. The sequence ends when the
// underlying reader is exhausted or ctx is cancelled; cancel the context
// when abandoning the stream early, otherwise the read goroutine blocks
// until the next byte arrives.
func (r *Reader) Keys(ctx context.Context) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		bytes := make(chan byte)
		go func() {
			defer close(bytes)
			for {
				b, err := r.src.ReadByte()
				if err != nil {
					return
				}
				select {
				case bytes <- b:
				case <-ctx.Done():
					return
				}
			}
		}()

		emit := func(keys []Key) bool {
			for _, k := range keys {
				if !yield(k) {
					return false
				}
			}
			return true
		}

		var timer *time.Timer
		var expiry <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-expiry:
				timer, expiry = nil, nil
				if !emit(r.dec.Timeout()) {
					return
				}
			case b, ok := <-bytes:
				if !ok {
					emit(r.dec.Flush())
					return
				}
				if !emit(r.dec.Feed(b)) {
					return
				}
				if r.dec.HoldingBackslash() {
					if timer == nil {
						timer = time.NewTimer(BackslashWindow)
						expiry = timer.C
					}
				} else if timer != nil {
					timer.Stop()
					timer, expiry = nil, nil
				}
			}
		}
	}
}
