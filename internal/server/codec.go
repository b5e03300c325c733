package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype of every Amx call: messages are plain Go
// structs carried as JSON, so clients must dial with CallContentSubtype.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
