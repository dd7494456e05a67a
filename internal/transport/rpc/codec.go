// Package rpc implements the RPC transport surface (spec.md §6, C8) on top
// of google.golang.org/grpc. protoc is unavailable in this environment (no
// Go/toolchain invocation is permitted to generate .pb.go stubs), so the
// service is registered with a hand-written grpc.ServiceDesc and a custom
// "json" encoding.Codec that marshals the same Go request/response structs
// the REST surface uses. This still exercises grpc.NewServer, unary
// interceptors, and grpc.ClientConn -- just without protobuf wire framing.
package rpc

import (
	"encoding/json"
	"fmt"
)

// jsonCodec implements google.golang.org/grpc/encoding.Codec, registered
// under the name "json" so clients opt in via
// grpc.CallContentSubtype("json") / grpc.ForceCodec(...).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: json unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return "json" }
