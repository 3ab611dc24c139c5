// Package compression compresses encoded cache values behind a one-byte frame header.
package compression

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// Compressor compresses and decompresses byte payloads
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)

	// Name returns the algorithm name used in configuration
	Name() string
}

// CompressorType names a compression algorithm
type CompressorType string

const (
	CompressorNone    CompressorType = "none"
	CompressorGzip    CompressorType = "gzip"
	CompressorDeflate CompressorType = "deflate"
)

// Frame header bytes. The header names the algorithm so a reader can decode
// values written under a different configuration.
const (
	headerPlain   byte = 0x00
	headerGzip    byte = 0x01
	headerDeflate byte = 0x02
)

// ErrCorruptFrame is returned for payloads without a known frame header
var ErrCorruptFrame = errors.New("compression: corrupt frame")

// Config holds compression configuration
type Config struct {
	Enabled   bool
	Algorithm CompressorType

	// MinSize is the smallest payload worth compressing
	MinSize int

	// Level is the compression level (1-9, -1 for the library default)
	Level int
}

// NewDefaultConfig returns a disabled gzip configuration with a 1KB threshold
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Algorithm: CompressorGzip,
		MinSize:   1024,
		Level:     -1,
	}
}

// WithEnabled sets whether compression is enabled
func (c *Config) WithEnabled(enabled bool) *Config {
	c.Enabled = enabled
	return c
}

// WithAlgorithm sets the compression algorithm
func (c *Config) WithAlgorithm(algorithm CompressorType) *Config {
	c.Algorithm = algorithm
	return c
}

// WithMinSize sets the minimum size threshold for compression
func (c *Config) WithMinSize(minSize int) *Config {
	c.MinSize = minSize
	return c
}

// WithLevel sets the compression level
func (c *Config) WithLevel(level int) *Config {
	c.Level = level
	return c
}

// NoOpCompressor returns data unchanged
type NoOpCompressor struct{}

func (NoOpCompressor) Compress(data []byte) ([]byte, error)         { return data, nil }
func (NoOpCompressor) Decompress(compressed []byte) ([]byte, error) { return compressed, nil }
func (NoOpCompressor) Name() string                                 { return string(CompressorNone) }

// GzipCompressor compresses with gzip
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a gzip compressor at level
func NewGzipCompressor(level int) *GzipCompressor {
	return &GzipCompressor{level: level}
}

func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *GzipCompressor) Decompress(compressed []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (g *GzipCompressor) Name() string { return string(CompressorGzip) }

// DeflateCompressor compresses with zlib
type DeflateCompressor struct {
	level int
}

// NewDeflateCompressor creates a zlib compressor at level
func NewDeflateCompressor(level int) *DeflateCompressor {
	return &DeflateCompressor{level: level}
}

func (d *DeflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := zlib.NewWriterLevel(&buf, d.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close deflate writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *DeflateCompressor) Decompress(compressed []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate reader: %w", err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (d *DeflateCompressor) Name() string { return string(CompressorDeflate) }

// NewCompressor creates the compressor selected by config
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil || !config.Enabled {
		return NoOpCompressor{}, nil
	}

	switch config.Algorithm {
	case CompressorNone:
		return NoOpCompressor{}, nil
	case CompressorGzip:
		return NewGzipCompressor(config.Level), nil
	case CompressorDeflate:
		return NewDeflateCompressor(config.Level), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

// Codec frames encoded values, compressing those at or above MinSize when
// that actually saves space
type Codec struct {
	c       Compressor
	minSize int
}

// NewCodec builds a framing codec from config
func NewCodec(config *Config) (*Codec, error) {
	c, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}
	minSize := 0
	if config != nil {
		minSize = config.MinSize
	}
	return &Codec{c: c, minSize: minSize}, nil
}

// Name returns the configured algorithm
func (f *Codec) Name() string { return f.c.Name() }

// Frame prefixes data with a header, compressing it if worthwhile.
// compressed reports whether the payload was compressed.
func (f *Codec) Frame(data []byte) (framed []byte, compressed bool, err error) {
	header := headerFor(f.c)
	if header != headerPlain && len(data) >= f.minSize {
		out, err := f.c.Compress(data)
		if err != nil {
			return nil, false, fmt.Errorf("failed to compress data: %w", err)
		}
		if len(out) < len(data) {
			return append([]byte{header}, out...), true, nil
		}
	}
	return append([]byte{headerPlain}, data...), false, nil
}

// Unframe strips the header and decompresses if needed
func (f *Codec) Unframe(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, ErrCorruptFrame
	}

	payload := framed[1:]
	switch framed[0] {
	case headerPlain:
		return payload, nil
	case headerGzip:
		return decompress(NewGzipCompressor(-1), payload)
	case headerDeflate:
		return decompress(NewDeflateCompressor(-1), payload)
	default:
		return nil, fmt.Errorf("%w: header 0x%02x", ErrCorruptFrame, framed[0])
	}
}

func decompress(c Compressor, payload []byte) ([]byte, error) {
	data, err := c.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptFrame, c.Name(), err)
	}
	return data, nil
}

func headerFor(c Compressor) byte {
	switch c.Name() {
	case string(CompressorGzip):
		return headerGzip
	case string(CompressorDeflate):
		return headerDeflate
	default:
		return headerPlain
	}
}

var (
	_ Compressor = NoOpCompressor{}
	_ Compressor = (*GzipCompressor)(nil)
	_ Compressor = (*DeflateCompressor)(nil)
)
