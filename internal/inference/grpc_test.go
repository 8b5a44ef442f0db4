package inference

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/weaponid/internal/detection"
)

type detectFunc func(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)

func startDetector(t *testing.T, fn detectFunc) *GRPCInferencer {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "weapon.v1.Detector",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Detect",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &wrapperspb.BytesValue{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return fn(ctx, in)
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	inf, err := DialGRPC(context.Background(), "bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inf.Close() })
	return inf
}

func TestGRPCInferencerDecodesStruct(t *testing.T) {
	var received []byte
	inf := startDetector(t, func(_ context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
		received = in.GetValue()
		return structpb.NewStruct(map[string]any{
			"detections": []any{
				map[string]any{"class_id": 4, "confidence": 0.91, "bbox": []any{1, 2, 3, 4}},
			},
		})
	})

	raw, err := inf.Infer(context.Background(), detection.Input{Data: []byte("jpeg bytes")})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), received)
	assert.Equal(t, []detection.RawDetection{
		{ClassID: 4, Confidence: 0.91, BBox: [4]float64{1, 2, 3, 4}},
	}, raw)
}

func TestGRPCInferencerEmptyResponse(t *testing.T) {
	inf := startDetector(t, func(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
		return &structpb.Struct{}, nil
	})
	raw, err := inf.Infer(context.Background(), detection.Input{Data: []byte("x")})
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestGRPCInferencerError(t *testing.T) {
	inf := startDetector(t, func(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model loading")
	})
	_, err := inf.Infer(context.Background(), detection.Input{Data: []byte("x"), RequestID: "req-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference.grpc.detect (request_id=req-1)")
	assert.Contains(t, err.Error(), "model loading")
}

func TestGRPCInferencerRejectsOutOfRangeConfidence(t *testing.T) {
	for _, conf := range []float64{7.5, -3} {
		inf := startDetector(t, func(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
			return structpb.NewStruct(map[string]any{
				"detections": []any{
					map[string]any{"class_id": 0, "confidence": conf, "bbox": []any{1, 2, 3, 4}},
				},
			})
		})
		_, err := inf.Infer(context.Background(), detection.Input{Data: []byte("x")})
		require.Error(t, err, "confidence %v", conf)
		assert.Contains(t, err.Error(), "outside [0,1]")
	}
}
