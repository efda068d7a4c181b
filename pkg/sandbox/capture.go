package sandbox

import "bytes"

// LimitedBuffer keeps at most Max bytes and silently drops the rest.
// Writes never fail so that a chatty program cannot break log demuxing.
type LimitedBuffer struct {
	Max       int
	buf       bytes.Buffer
	discarded int
}

func (b *LimitedBuffer) Write(p []byte) (int, error) {
	if b.Max <= 0 {
		return b.buf.Write(p)
	}
	room := b.Max - b.buf.Len()
	if room <= 0 {
		b.discarded += len(p)
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.discarded += len(p) - room
		return len(p), nil
	}
	return b.buf.Write(p)
}

// String returns the retained bytes.
func (b *LimitedBuffer) String() string { return b.buf.String() }

// Truncated reports whether any bytes were dropped.
func (b *LimitedBuffer) Truncated() bool { return b.discarded > 0 }
