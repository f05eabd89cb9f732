package process

import (
	"bytes"
	"sync"

	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// maxPartialLine bounds a line that never terminates (e.g. a progress bar
// without newlines); it is emitted once it grows past this size.
const maxPartialLine = 64 * 1024

// capture is an io.Writer that keeps the tail of a stream and splits it into
// lines on either '\n' or '\r', since download tools redraw progress with
// carriage returns.
type capture struct {
	limit  int
	stderr bool
	onLine ports.LineFunc

	mu      sync.Mutex
	tail    []byte
	partial []byte
}

func newCapture(limit int, stderr bool, onLine ports.LineFunc) *capture {
	return &capture{limit: limit, stderr: stderr, onLine: onLine}
}

// Write implements io.Writer.
func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tail = appendLimited(c.tail, p, c.limit)
	if c.onLine == nil {
		return len(p), nil
	}

	c.partial = append(c.partial, p...)
	for {
		i := bytes.IndexAny(c.partial, "\r\n")
		if i < 0 {
			break
		}
		c.emit(c.partial[:i])
		c.partial = c.partial[i+1:]
	}
	if len(c.partial) > maxPartialLine {
		c.emit(c.partial)
		c.partial = nil
	}
	return len(p), nil
}

// Flush emits a trailing line that had no terminator.
func (c *capture) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onLine != nil && len(c.partial) > 0 {
		c.emit(c.partial)
	}
	c.partial = nil
}

// String returns the captured tail.
func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.tail)
}

func (c *capture) emit(line []byte) {
	if len(line) == 0 {
		return
	}
	c.onLine(string(line), c.stderr)
}

// appendLimited appends p to buf keeping at most limit trailing bytes.
func appendLimited(buf, p []byte, limit int) []byte {
	buf = append(buf, p...)
	if limit <= 0 || len(buf) <= limit {
		return buf
	}
	out := make([]byte, limit)
	copy(out, buf[len(buf)-limit:])
	return out
}
