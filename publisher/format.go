package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// marshalEvent encodes an event for log storage
func marshalEvent(event *Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(event); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unmarshalEvent decodes a stored log entry
func unmarshalEvent(data []byte, event *Event) error {
	return msgpack.NewDecoder(bytes.NewReader(data)).Decode(event)
}

// JSONEncoder renders events as JSON objects
type JSONEncoder struct{}

func (JSONEncoder) Encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func (JSONEncoder) ContentType() string { return "application/json" }

// MsgpackEncoder renders events with the same msgpack layout as the log
type MsgpackEncoder struct{}

func (MsgpackEncoder) Encode(event Event) ([]byte, error) {
	return marshalEvent(&event)
}

func (MsgpackEncoder) ContentType() string { return "application/msgpack" }

// ZstdEncoder compresses the payload of another encoder. A single
// zstd.Encoder without a writer is safe for concurrent EncodeAll calls.
type ZstdEncoder struct {
	inner Encoder
	zenc  *zstd.Encoder
}

func (z *ZstdEncoder) Encode(event Event) ([]byte, error) {
	data, err := z.inner.Encode(event)
	if err != nil {
		return nil, err
	}
	return z.zenc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (z *ZstdEncoder) ContentType() string { return z.inner.ContentType() + "+zstd" }

var zstdLevels = map[string]zstd.EncoderLevel{
	"fastest": zstd.SpeedFastest,
	"default": zstd.SpeedDefault,
	"better":  zstd.SpeedBetterCompression,
	"best":    zstd.SpeedBestCompression,
}

// NewEncoder returns the encoder for a sink format (empty means json),
// optionally wrapped in zstd at the given level name
func NewEncoder(format, compression string) (Encoder, error) {
	var enc Encoder
	switch format {
	case "", "json":
		enc = JSONEncoder{}
	case "msgpack":
		enc = MsgpackEncoder{}
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	if compression == "" || compression == "none" {
		return enc, nil
	}

	level, ok := zstdLevels[compression]
	if !ok {
		return nil, fmt.Errorf("unknown compression level: %s", compression)
	}
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &ZstdEncoder{inner: enc, zenc: zenc}, nil
}
