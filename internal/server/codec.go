package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content subtype of the StakeLedger service.
// Clients call with grpc.CallContentSubtype(codecName).
const codecName = "json"

// jsonCodec carries plain Go structs over gRPC. The service has no protobuf
// schema, so messages are JSON on the wire.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
