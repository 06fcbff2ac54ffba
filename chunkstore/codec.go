package chunkstore

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes a list of items (a chunk) and decodes it back.
// Name is stored in meta.txt and checked when reading.
type Codec interface {
	Name() string
	Encode(w io.Writer, v any) error
	Decode(d []byte, v any) error
}

// DefaultCodec is used when Store.Codec is not set
var DefaultCodec Codec = MsgpackCodec{}

// MsgpackCodec encodes items with msgpack.
// Structs are encoded as maps keyed by field name (or `msgpack` tag).
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string {
	return "msgpack"
}

func (MsgpackCodec) Encode(w io.Writer, v any) error {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(w)
	enc.UseCompactInts(true)
	return enc.Encode(v)
}

func (MsgpackCodec) Decode(d []byte, v any) error {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(bytes.NewReader(d))
	return dec.Decode(v)
}
