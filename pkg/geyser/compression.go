package geyser

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip" // registers the gzip compressor
)

var registerZstdOnce sync.Once

// RegisterZstdCompressor registers the zstd compressor with gRPC. It is safe
// to call more than once.
func RegisterZstdCompressor() {
	registerZstdOnce.Do(func() {
		encoding.RegisterCompressor(&zstdCompressor{level: zstd.SpeedFastest})
	})
}

// zstdCompressor implements gRPC's encoding.Compressor using zstd.
type zstdCompressor struct {
	level       zstd.EncoderLevel
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func (c *zstdCompressor) Name() string {
	return CompressionZstd
}

// Compress returns a WriteCloser that compresses data written to it.
func (c *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	if enc, ok := c.encoderPool.Get().(*zstd.Encoder); ok {
		enc.Reset(w)
		return &pooledEncoder{enc: enc, pool: &c.encoderPool}, nil
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return nil, err
	}
	return &pooledEncoder{enc: enc, pool: &c.encoderPool}, nil
}

// Decompress returns a Reader that decompresses data read from it.
func (c *zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	if dec, ok := c.decoderPool.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err != nil {
			c.decoderPool.Put(dec)
			return nil, err
		}
		return &pooledDecoder{dec: dec, pool: &c.decoderPool}, nil
	}

	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &pooledDecoder{dec: dec, pool: &c.decoderPool}, nil
}

type pooledEncoder struct {
	enc  *zstd.Encoder
	pool *sync.Pool
}

func (p *pooledEncoder) Write(data []byte) (int, error) {
	return p.enc.Write(data)
}

func (p *pooledEncoder) Close() error {
	err := p.enc.Close()
	p.pool.Put(p.enc)
	return err
}

// pooledDecoder returns its decoder to the pool once the message is drained.
type pooledDecoder struct {
	dec      *zstd.Decoder
	pool     *sync.Pool
	returned bool
}

func (p *pooledDecoder) Read(data []byte) (int, error) {
	if p.returned {
		return 0, io.EOF
	}
	n, err := p.dec.Read(data)
	if err == io.EOF {
		p.returned = true
		p.pool.Put(p.dec)
	}
	return n, err
}
