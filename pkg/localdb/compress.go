package localdb

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/i5heu/snapstore/pkg/model"
)

// Codec selects the compression applied to stored kits.
type Codec byte

const (
	CodecNone Codec = iota
	CodecZstd
	CodecXZ
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecXZ:
		return "xz"
	default:
		return fmt.Sprintf("codec(%d)", byte(c))
	}
}

// ParseCodec maps a configuration name to a codec. The empty name is none.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "xz":
		return CodecXZ, nil
	default:
		return CodecNone, fmt.Errorf("localdb: unknown codec %q", name)
	}
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstdCodec returns the process wide encoder and decoder. Both are safe for
// concurrent EncodeAll and DecodeAll calls.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// CompressedSerializer wraps another serializer and compresses its output.
// Every record starts with the codec byte it was written with, so records
// written with different codecs can be read back by any instance.
type CompressedSerializer struct {
	Inner Serializer
	Codec Codec
}

// NewCompressedSerializer returns a serializer that compresses KitSerializer
// output with codec.
func NewCompressedSerializer(codec Codec) *CompressedSerializer {
	return &CompressedSerializer{Inner: KitSerializer{}, Codec: codec}
}

func (s *CompressedSerializer) WriteTo(kit model.ContentNodeKit, w io.Writer) error { // A
	raw, err := marshal(s.Inner, kit)
	if err != nil {
		return err
	}

	var payload []byte
	switch s.Codec {
	case CodecNone:
		payload = raw
	case CodecZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return err
		}
		payload = enc.EncodeAll(raw, nil)
	case CodecXZ:
		var buf bytes.Buffer
		xw, err := xz.NewWriter(&buf)
		if err != nil {
			return err
		}
		if _, err := xw.Write(raw); err != nil {
			return err
		}
		if err := xw.Close(); err != nil {
			return err
		}
		payload = buf.Bytes()
	default:
		return fmt.Errorf("localdb: unknown codec %s", s.Codec)
	}

	if _, err := w.Write([]byte{byte(s.Codec)}); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func (s *CompressedSerializer) ReadFrom(r io.Reader) (model.ContentNodeKit, error) { // A
	b, err := io.ReadAll(r)
	if err != nil {
		return model.ContentNodeKit{}, err
	}
	if len(b) == 0 {
		return model.ContentNodeKit{}, fmt.Errorf("%w: empty record", ErrCorruptKit)
	}

	codec, payload := Codec(b[0]), b[1:]
	var raw []byte
	switch codec {
	case CodecNone:
		raw = payload
	case CodecZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return model.ContentNodeKit{}, err
		}
		raw, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return model.ContentNodeKit{}, fmt.Errorf("%w: %v", ErrCorruptKit, err)
		}
	case CodecXZ:
		xr, err := xz.NewReader(bytes.NewReader(payload))
		if err != nil {
			return model.ContentNodeKit{}, fmt.Errorf("%w: %v", ErrCorruptKit, err)
		}
		raw, err = io.ReadAll(xr)
		if err != nil {
			return model.ContentNodeKit{}, fmt.Errorf("%w: %v", ErrCorruptKit, err)
		}
	default:
		return model.ContentNodeKit{}, fmt.Errorf("%w: unknown codec %s", ErrCorruptKit, codec)
	}
	return unmarshal(s.Inner, raw)
}
