package cache

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/conneroisu/sectional/internal/liquid"
)

// Persisted entries start with a one byte header naming the encoding of
// the rest.
const (
	formatCBOR     byte = 1
	formatCBORZstd byte = 2
)

const recordVersion = 1

// record is the persisted form of a document.
type record struct {
	Version   int            `cbor:"1,keyasint"`
	CreatedAt int64          `cbor:"2,keyasint"`
	Tokens    []liquid.Token `cbor:"3,keyasint"`
}

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	// Core deterministic encoding: identical documents persist to
	// identical bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeDocument(doc *liquid.Document, createdAt time.Time, compress bool) ([]byte, error) {
	payload, err := encMode.Marshal(record{
		Version:   recordVersion,
		CreatedAt: createdAt.Unix(),
		Tokens:    doc.Tokens(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode cache record: %w", err)
	}

	if !compress {
		return append([]byte{formatCBOR}, payload...), nil
	}
	return zstdEncoder.EncodeAll(payload, []byte{formatCBORZstd}), nil
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	if len(data) == 0 {
		return rec, fmt.Errorf("empty cache record")
	}

	payload := data[1:]
	switch data[0] {
	case formatCBOR:
	case formatCBORZstd:
		var err error
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return rec, fmt.Errorf("zstd decompress: %w", err)
		}
	default:
		return rec, fmt.Errorf("unknown cache record format %d", data[0])
	}

	if err := decMode.Unmarshal(payload, &rec); err != nil {
		return rec, fmt.Errorf("decode cache record: %w", err)
	}
	if rec.Version != recordVersion {
		return rec, fmt.Errorf("unsupported cache record version %d", rec.Version)
	}
	return rec, nil
}
