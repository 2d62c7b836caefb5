// Copyright 2025 Joseph Cumines
//
// WindowInfoService: foreground activity lookups over adb

package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joeycumines/DeviceInspector/internal/device"
	"github.com/joeycumines/DeviceInspector/internal/wire"
)

// ActivitySource reports the foreground activity of an attached device.
// *device.ADB implements it.
type ActivitySource interface {
	CurrentActivity(ctx context.Context, deviceID string) (device.Activity, error)
}

// WindowInfoService implements wire.WindowInfoServiceServer.
type WindowInfoService struct {
	source ActivitySource
	logger *slog.Logger
	now    func() time.Time
}

var _ wire.WindowInfoServiceServer = (*WindowInfoService)(nil)

// NewWindowInfoService returns the service backed by source.
func NewWindowInfoService(source ActivitySource, logger *slog.Logger) *WindowInfoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowInfoService{source: source, logger: logger, now: time.Now}
}

// GetCurrentWindowInfo queries the foreground activity. Failures are
// reported with Success=false and an OK status.
func (s *WindowInfoService) GetCurrentWindowInfo(ctx context.Context, req *wire.WindowInfoRequest) (*wire.WindowInfoResponse, error) {
	resp := &wire.WindowInfoResponse{
		Source: wire.WindowInfoSourcePCADB,
		Type:   wire.ResponseTypeWindowInfo,
	}

	activity, err := s.source.CurrentActivity(ctx, req.DeviceID)
	resp.Timestamp = s.now().UnixMilli()
	if err != nil {
		s.logger.Info("failed to get activity info", "device_id", req.DeviceID, "error", err)
		resp.ErrorMessage = err.Error()
		return resp, nil
	}

	s.logger.Debug("got activity info", "device_id", req.DeviceID, "package", activity.PackageName, "activity", activity.ActivityName)
	resp.PackageName = activity.PackageName
	resp.ActivityName = activity.ActivityName
	resp.Success = true
	return resp, nil
}
