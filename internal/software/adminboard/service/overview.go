package service

import (
	"context"
	"time"

	"transit-sync/internal/domain/geo"
	"transit-sync/internal/ports"
)

// GetSystemOverview collects live session counts and aggregate tracking
// metrics.
func (service *adminService) GetSystemOverview(ctx context.Context) (ports.SystemOverviewResult, error) {
	now := service.clock.Now().UTC()
	since := now.Add(-service.fresh)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	res := ports.SystemOverviewResult{
		Timestamp:   now,
		FreshWindow: service.fresh.String(),
		Sessions:    service.hub.Stats(),
	}

	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		drivers, err := service.locations.CountFresh(txCtx, geo.EntityTypeDriver, since)
		if err != nil {
			return err
		}
		res.Metrics.FreshDrivers = drivers

		passengers, err := service.locations.CountFresh(txCtx, geo.EntityTypePassenger, since)
		if err != nil {
			return err
		}
		res.Metrics.FreshPassengers = passengers

		replies, err := service.replies.CountSince(txCtx, startOfDay)
		if err != nil {
			return err
		}
		res.Metrics.RepliesToday = replies

		hs, err := service.locations.Hotspots(txCtx, since, 10)
		if err != nil {
			return err
		}
		res.Hotspots = append([]ports.Hotspot{}, hs...)
		return nil
	})
	if err != nil {
		return ports.SystemOverviewResult{}, err
	}
	return res, nil
}
