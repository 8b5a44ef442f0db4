package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/weaponid/internal/detection"
	"github.com/example/weaponid/internal/logging"
)

// DetectMethod is the unary RPC the remote detector serves. It takes the
// encoded image as a BytesValue and answers with a Struct holding a
// "detections" list.
const DetectMethod = "/weapon.v1.Detector/Detect"

const dialTimeout = 5 * time.Second

// GRPCInferencer calls a remote detector over gRPC.
type GRPCInferencer struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// DialGRPC returns a ready-to-use client for the detector at addr.
func DialGRPC(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*GRPCInferencer, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("inference.grpc.dial", "", err)
		logger.Error("failed to dial detector", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &GRPCInferencer{conn: conn, logger: logger.Named("inference.grpc")}, nil
}

// Infer sends the original image bytes.
func (g *GRPCInferencer) Infer(ctx context.Context, in detection.Input) ([]detection.RawDetection, error) {
	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectMethod, wrapperspb.Bytes(in.Data), out); err != nil {
		wrapped := logging.NewOperationError("inference.grpc.detect", in.RequestID, err)
		g.logger.Error("detector call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return decodeStruct(out)
}

// Close releases the connection.
func (g *GRPCInferencer) Close() error {
	return g.conn.Close()
}

func decodeStruct(out *structpb.Struct) ([]detection.RawDetection, error) {
	data, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode detector response: %w", err)
	}

	var payload struct {
		Detections []wireDetection `json:"detections"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	return toRawList(payload.Detections)
}
