package config

const defaultBufferSize = 256 * 1024

// CopyBufferSize is the read buffer size used when copying media.
func (c *Config) CopyBufferSize() int {
	if c.copyBufferSize <= 0 {
		return defaultBufferSize
	}
	return c.copyBufferSize
}

// WriterBufferSize is the bufio size used when writing whole files.
func (c *Config) WriterBufferSize() int {
	if c.writerBufferSize <= 0 {
		return defaultBufferSize
	}
	return c.writerBufferSize
}
