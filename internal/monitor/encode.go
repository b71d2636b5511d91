package monitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
)

// summaryProto encodes a summary as a google.protobuf.Struct with the same
// field names as the JSON body.
func summaryProto(s alerts.Summary) ([]byte, error) {
	jsonData, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return jsonToProto(jsonData)
}

func jsonToProto(jsonData []byte) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}

// serializeSummary pre-serializes a summary for broadcasting.
func serializeSummary(s alerts.Summary) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	pbData, err := jsonToProto(jsonData)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	// Base64 encode for SSE transport
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
