package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Method and service names served by the remote detector.
const (
	GRPCService      = "petwatch.detection.v1.Detector"
	GRPCDetectMethod = "/" + GRPCService + "/Detect"
)

// GRPCEngine calls a remote detector over gRPC. Requests and responses are
// google.protobuf.Struct messages so no generated stubs are needed.
type GRPCEngine struct {
	endpoint string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	timeout  time.Duration

	healthTTL   time.Duration
	mu          sync.Mutex
	healthy     bool
	healthCheck time.Time
}

// NewGRPCEngine creates a client for endpoint. The connection is established
// lazily on the first call.
func NewGRPCEngine(endpoint string, opts ...grpc.DialOption) (*GRPCEngine, error) {
	// Detect dead connections quickly.
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", endpoint, err)
	}

	log.Printf("[GRPCEngine] Using detector at %s", endpoint)
	return &GRPCEngine{
		endpoint: endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		timeout:  5 * time.Second,

		healthTTL: 30 * time.Second,
	}, nil
}

// Name implements Engine.
func (e *GRPCEngine) Name() string { return "grpc" }

// Healthy implements Engine using the standard health service. Successful
// checks are cached for 30 seconds.
func (e *GRPCEngine) Healthy(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.healthy && time.Since(e.healthCheck) < e.healthTTL {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := e.health.Check(ctx, &healthpb.HealthCheckRequest{Service: GRPCService})
	if err != nil {
		log.Printf("[GRPCEngine] Health check failed: %v", err)
		e.healthy = false
		return false
	}
	e.healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	e.healthCheck = time.Now()
	return e.healthy
}

func (e *GRPCEngine) markUnhealthy() {
	e.mu.Lock()
	e.healthy = false
	e.mu.Unlock()
}

// Infer implements Engine.
func (e *GRPCEngine) Infer(ctx context.Context, frame gocv.Mat, req Request) ([]Detection, error) {
	jpeg, err := EncodeJPEG(frame)
	if err != nil {
		return nil, err
	}
	return e.InferJPEG(ctx, jpeg, req)
}

// InferJPEG sends an encoded frame and decodes the detections.
func (e *GRPCEngine) InferJPEG(ctx context.Context, jpeg []byte, req Request) ([]Detection, error) {
	classes := make([]any, len(req.Classes))
	for i, c := range req.Classes {
		classes[i] = float64(c)
	}
	in, err := structpb.NewStruct(map[string]any{
		"image":          base64.StdEncoding.EncodeToString(jpeg),
		"conf_threshold": req.ConfidenceFloor,
		"classes":        classes,
		"imgsz":          []any{float64(req.Size.X), float64(req.Size.Y)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, GRPCDetectMethod, in, out); err != nil {
		if code := status.Code(err); code == codes.Unavailable || code == codes.DeadlineExceeded {
			e.markUnhealthy()
		}
		return nil, fmt.Errorf("detect call failed: %w", err)
	}
	return detectionsFromStruct(out, req)
}

// Close implements Engine.
func (e *GRPCEngine) Close() error {
	return e.conn.Close()
}

// detectionsFromStruct reads {"detections": [{"class_id", "confidence",
// "bbox": [x1, y1, x2, y2], "center": [cx, cy]}]}.
func detectionsFromStruct(s *structpb.Struct, req Request) ([]Detection, error) {
	list := s.GetFields()["detections"].GetListValue()
	if list == nil {
		return nil, nil
	}

	out := make([]Detection, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("detection %d is not an object", i)
		}
		bbox := numbers(fields["bbox"])
		if len(bbox) != 4 {
			return nil, fmt.Errorf("detection %d has malformed bbox", i)
		}
		classID := int(fields["class_id"].GetNumberValue())
		conf := fields["confidence"].GetNumberValue()
		if conf < req.ConfidenceFloor || !req.wants(classID) {
			continue
		}
		out = append(out, fromCorners(classID, conf, bbox, numbers(fields["center"])))
	}
	return out, nil
}

func numbers(v *structpb.Value) []float64 {
	vals := v.GetListValue().GetValues()
	out := make([]float64, len(vals))
	for i, n := range vals {
		out[i] = n.GetNumberValue()
	}
	return out
}
