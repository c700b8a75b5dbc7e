package wire

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Subprotocols offered during the websocket handshake.
const (
	SubprotocolJSON     = "json.relay.v1"
	SubprotocolProtobuf = "protobuf.relay.v1"
	SubprotocolCBOR     = "cbor.relay.v1"
)

// Codec converts frames to and from one wire format.
type Codec interface {
	Name() string
	Subprotocol() string
	// Binary reports whether frames go out as binary websocket messages.
	Binary() bool
	Encode(v any) ([]byte, error)
	Decode(data []byte) (map[string]any, error)
}

var (
	JSON     Codec = jsonCodec{}
	Protobuf Codec
	CBOR     Codec

	codecs []Codec
)

func init() {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
	Protobuf = protobufCodec{enc: zenc, dec: zdec}

	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
	CBOR = cborCodec{enc: encMode, dec: decMode}

	codecs = []Codec{JSON, Protobuf, CBOR}
}

// Subprotocols lists every supported subprotocol, preferred first.
func Subprotocols() []string {
	out := make([]string, len(codecs))
	for i, c := range codecs {
		out[i] = c.Subprotocol()
	}
	return out
}

// ForSubprotocol returns the codec for a negotiated subprotocol.
// An empty or unknown subprotocol falls back to JSON.
func ForSubprotocol(name string) Codec {
	for _, c := range codecs {
		if c.Subprotocol() == name {
			return c
		}
	}
	return JSON
}

// ByName looks up a codec by its short name ("json", "protobuf", "cbor").
func ByName(name string) (Codec, error) {
	for _, c := range codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) Subprotocol() string { return SubprotocolJSON }
func (jsonCodec) Binary() bool        { return false }

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal json frame: %w", err)
	}
	return m, nil
}

// protobufCodec carries frames as a zstd-compressed google.protobuf.Struct.
type protobufCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (protobufCodec) Name() string        { return "protobuf" }
func (protobufCodec) Subprotocol() string { return SubprotocolProtobuf }
func (protobufCodec) Binary() bool        { return true }

func (c protobufCodec) Encode(v any) ([]byte, error) {
	m, err := toGeneric(v)
	if err != nil {
		return nil, fmt.Errorf("normalize frame: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}
	return c.enc.EncodeAll(pbData, nil), nil
}

func (c protobufCodec) Decode(data []byte) (map[string]any, error) {
	pbData, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(pbData, &st); err != nil {
		return nil, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	return st.AsMap(), nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (cborCodec) Name() string        { return "cbor" }
func (cborCodec) Subprotocol() string { return SubprotocolCBOR }
func (cborCodec) Binary() bool        { return true }

func (c cborCodec) Encode(v any) ([]byte, error) {
	m, err := toGeneric(v)
	if err != nil {
		return nil, fmt.Errorf("normalize frame: %w", err)
	}
	return c.enc.Marshal(m)
}

func (c cborCodec) Decode(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := c.dec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal cbor frame: %w", err)
	}
	return m, nil
}
