package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype clients select with grpc.CallContentSubtype.
const codecName = "json"

func init() {
	// Registration is process-wide but only calls that ask for the "json"
	// subtype use it; protobuf services in the same binary are unaffected.
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the hub request and response structs as JSON so the
// service needs no generated protobuf code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }
