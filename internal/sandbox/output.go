package sandbox

import "bytes"

const truncatedMarker = "\n... [output truncated]"

// cappedBuffer keeps the first max bytes written to it and silently discards
// the rest, so a runaway program cannot grow the parent's memory. Writes never
// fail: a short write would make os/exec report a broken pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + truncatedMarker
	}
	return c.buf.String()
}
