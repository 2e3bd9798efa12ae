package store

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// codec compresses blocks. Quality is a compression step in [1, steps()].
type codec interface {
	steps() int
	defaultStep() int
	encode(dst, src []byte, step int) ([]byte, error)
	decode(dst, src []byte) ([]byte, error)
}

var codecs = map[raster.Codec]codec{
	raster.CodecNone:    noneCodec{},
	raster.CodecDeflate: deflateCodec{},
	raster.CodecZstd:    &zstdCodec{},
}

func lookupCodec(name raster.Codec) (codec, error) {
	c, ok := codecs[name]
	if !ok {
		return nil, errors.Errorf("codec %q is not available", name)
	}
	return c, nil
}

func clampStep(c codec, step int) int {
	if step <= 0 {
		return c.defaultStep()
	}
	return min(step, c.steps())
}

type noneCodec struct{}

func (noneCodec) steps() int       { return 1 }
func (noneCodec) defaultStep() int { return 1 }

func (noneCodec) encode(dst, src []byte, _ int) ([]byte, error) {
	return append(dst[:0], src...), nil
}

func (noneCodec) decode(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

type deflateCodec struct{}

func (deflateCodec) steps() int       { return flate.BestCompression }
func (deflateCodec) defaultStep() int { return 6 }

func (deflateCodec) encode(dst, src []byte, step int) ([]byte, error) {
	buf := bytes.NewBuffer(dst[:0])
	wr, err := flate.NewWriter(buf, step)
	if err != nil {
		return nil, errors.Wrap(err, "flate.NewWriter")
	}

	if _, err := wr.Write(src); err != nil {
		return nil, errors.Wrap(err, "Write")
	}

	if err := wr.Close(); err != nil {
		return nil, errors.Wrap(err, "Close")
	}

	return buf.Bytes(), nil
}

func (deflateCodec) decode(dst, src []byte) ([]byte, error) {
	rd := flate.NewReader(bytes.NewReader(src))
	buf := bytes.NewBuffer(dst[:0])

	if _, err := io.Copy(buf, rd); err != nil {
		_ = rd.Close()
		return nil, errors.Wrap(err, "inflate")
	}

	return buf.Bytes(), rd.Close()
}

// zstdCodec maps the compression steps onto the zstd encoder levels.
type zstdCodec struct {
	m        sync.Mutex
	encoders map[zstd.EncoderLevel]*zstd.Encoder
	dec      *zstd.Decoder
}

func (*zstdCodec) steps() int       { return int(zstd.SpeedBestCompression) }
func (*zstdCodec) defaultStep() int { return int(zstd.SpeedDefault) }

func (c *zstdCodec) encoder(step int) (*zstd.Encoder, error) {
	c.m.Lock()
	defer c.m.Unlock()

	level := zstd.EncoderLevel(step)
	if enc, ok := c.encoders[level]; ok {
		return enc, nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "zstd.NewWriter")
	}

	if c.encoders == nil {
		c.encoders = make(map[zstd.EncoderLevel]*zstd.Encoder)
	}
	c.encoders[level] = enc

	return enc, nil
}

func (c *zstdCodec) decoder() (*zstd.Decoder, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if c.dec != nil {
		return c.dec, nil
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "zstd.NewReader")
	}

	c.dec = dec
	return dec, nil
}

func (c *zstdCodec) encode(dst, src []byte, step int) ([]byte, error) {
	enc, err := c.encoder(step)
	if err != nil {
		return nil, err
	}

	return enc.EncodeAll(src, dst[:0]), nil
}

func (c *zstdCodec) decode(dst, src []byte) ([]byte, error) {
	dec, err := c.decoder()
	if err != nil {
		return nil, err
	}

	buf, err := dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, errors.Wrap(err, "zstd decode")
	}

	return buf, nil
}
