// Copyright 2025 Joseph Cumines
//
// AccessibilityService: device streams and tree fetches

package server

import (
	"context"
	"log/slog"

	"github.com/joeycumines/DeviceInspector/internal/mux"
	"github.com/joeycumines/DeviceInspector/internal/transport"
	"github.com/joeycumines/DeviceInspector/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// deviceStream is the server side of StreamAccessibility.
type deviceStream = grpc.BidiStreamingServer[wire.ClientResponse, wire.ServerCommand]

// AccessibilityService implements wire.AccessibilityServiceServer on top of
// a mux.Multiplexer.
type AccessibilityService struct {
	mux     *mux.Multiplexer
	metrics *transport.MetricsRegistry
	logger  *slog.Logger
}

var _ wire.AccessibilityServiceServer = (*AccessibilityService)(nil)

// NewAccessibilityService returns the service backed by m.
func NewAccessibilityService(m *mux.Multiplexer, metrics *transport.MetricsRegistry, logger *slog.Logger) *AccessibilityService {
	if metrics == nil {
		metrics = transport.NewMetricsRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessibilityService{mux: m, metrics: metrics, logger: logger}
}

// StreamAccessibility registers the calling device and forwards commands to
// it until either side ends the stream.
func (s *AccessibilityService) StreamAccessibility(stream deviceStream) error {
	ctx := stream.Context()
	requested := deviceIDFromMetadata(ctx)

	st, err := s.mux.OpenStream(ctx, requested, &replyCounter{stream: stream, metrics: s.metrics})
	if err != nil {
		s.metrics.RecordStreamEvent("rejected")
		s.logger.Warn("rejecting device stream", "requested_device_id", requested, "error", err)
		return streamRejection(requested, err)
	}

	s.metrics.RecordStreamEvent("opened")
	s.syncActiveStreams()
	defer func() {
		s.metrics.RecordStreamEvent("closed")
		s.syncActiveStreams()
	}()

	deviceID := st.DeviceID()
	for {
		select {
		case cmd := <-st.Commands():
			if err := stream.Send(cmd); err != nil {
				s.logger.Warn("sending command failed", "device_id", deviceID, "request_id", cmd.RequestID, "error", err)
				return err
			}
		case <-st.Done():
			if s.mux.Closed() {
				return status.Error(codes.Unavailable, "Server is shutting down")
			}
			return nil
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
}

// syncActiveStreams runs after registration changes. The demultiplexer
// deregisters asynchronously, so a closing stream may still be counted.
func (s *AccessibilityService) syncActiveStreams() {
	s.metrics.SetActiveStreams(len(s.mux.ConnectedDevices()))
}

// GetAccessibilityTree fetches the tree of a connected device. Failures are
// reported with Success=false and an OK status.
func (s *AccessibilityService) GetAccessibilityTree(ctx context.Context, req *wire.GetAccessibilityTreeRequest) (*wire.GetAccessibilityTreeResponse, error) {
	s.logger.Debug("getting accessibility tree", "device_id", req.DeviceID)

	payload, err := s.mux.FetchTree(ctx, req.DeviceID)
	s.metrics.RecordFetch(fetchOutcome(err), len(payload))
	if err != nil {
		s.logger.Info("accessibility tree fetch failed", "device_id", req.DeviceID, "error", err)
		return &wire.GetAccessibilityTreeResponse{ErrorMessage: fetchMessage(err)}, nil
	}

	s.logger.Debug("received accessibility tree", "device_id", req.DeviceID, "bytes", len(payload))
	return &wire.GetAccessibilityTreeResponse{Success: true, RawOutput: payload}, nil
}

// UpdateAccessibilityData delivers a tree pushed outside the stream. It
// acknowledges whether or not a fetch was waiting.
func (s *AccessibilityService) UpdateAccessibilityData(_ context.Context, req *wire.UpdateAccessibilityDataRequest) (*wire.UpdateAccessibilityDataResponse, error) {
	if !s.mux.Deliver(req.DeviceID, req.RawOutput) {
		s.logger.Info("no pending request for pushed data", "device_id", req.DeviceID, "bytes", len(req.RawOutput))
	}
	return &wire.UpdateAccessibilityDataResponse{Success: true}, nil
}

// replyCounter feeds stream replies to the multiplexer, counting heartbeats
// on the way.
type replyCounter struct {
	stream  deviceStream
	metrics *transport.MetricsRegistry
}

func (r *replyCounter) Recv() (*wire.ClientResponse, error) {
	resp, err := r.stream.Recv()
	if err == nil && resp != nil && resp.DeviceID == wire.HeartbeatDeviceID {
		r.metrics.RecordHeartbeat()
	}
	return resp, err
}

// deviceIDFromMetadata returns the x-device-id request metadata, or "" when
// absent.
func deviceIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(wire.DeviceIDMetadataKey); len(values) > 0 {
		return values[0]
	}
	return ""
}
