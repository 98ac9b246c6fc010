package state

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// encMode uses Core Deterministic Encoding so the same logical checkpoint
// always produces the same bytes, and therefore the same fingerprint.
var encMode cbor.EncMode

var decMode cbor.DecMode

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("state: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("state: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("state: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("state: zstd decoder initialization failed: " + err.Error())
	}
}

// envelope is the stored form of one checkpoint.
type envelope[T any] struct {
	Meta     Meta `cbor:"meta"`
	Snapshot T    `cbor:"snapshot"`
}

// Encode serialises a checkpoint as zstd compressed deterministic CBOR.
func Encode[T any](snapshot T, meta Meta) ([]byte, error) {
	raw, err := encMode.Marshal(envelope[T]{Meta: meta, Snapshot: snapshot})
	if err != nil {
		return nil, fmt.Errorf("state: encode: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// Decode reverses Encode.
func Decode[T any](data []byte) (T, Meta, error) {
	var zero T
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return zero, Meta{}, fmt.Errorf("state: decompress: %w", err)
	}
	var env envelope[T]
	if err := decMode.Unmarshal(raw, &env); err != nil {
		return zero, Meta{}, fmt.Errorf("state: decode: %w", err)
	}
	return env.Snapshot, env.Meta, nil
}

// Fingerprint returns the hex BLAKE3 digest of the deterministic CBOR
// encoding of v. Equal values yield equal fingerprints.
func Fingerprint(v any) (string, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("state: fingerprint: %w", err)
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
