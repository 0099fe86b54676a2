package service

import (
	"context"
	"strconv"
	"strings"

	"transit-sync/internal/domain/geo"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/ports"
)

const maxPageSize = 200

// GetTrackedEntities pages through entities that reported within the fresh
// window, newest first. entityType may be empty, "driver" or "passenger".
func (service *adminService) GetTrackedEntities(ctx context.Context, entityType, page, pageSize string) (ports.TrackedEntitiesResult, error) {
	var et geo.EntityType
	if strings.TrimSpace(entityType) != "" {
		parsed, err := geo.ParseEntityType(entityType)
		if err != nil {
			return ports.TrackedEntitiesResult{}, err
		}
		et = parsed
	}

	pageInt, err := strconv.Atoi(page)
	if err != nil || pageInt < 1 {
		pageInt = 1
	}
	sizeInt, err := strconv.Atoi(pageSize)
	if err != nil || sizeInt < 1 {
		sizeInt = 20
	}
	sizeInt = min(sizeInt, maxPageSize)

	now := service.clock.Now().UTC()
	since := now.Add(-service.fresh)
	res := ports.TrackedEntitiesResult{Page: pageInt, PageSize: sizeInt, Entities: []ports.TrackedEntityRow{}}

	err = service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		total, err := service.locations.CountFresh(txCtx, et, since)
		if err != nil {
			return err
		}
		res.TotalCount = total

		samples, err := service.locations.ListFresh(txCtx, et, since, (pageInt-1)*sizeInt, sizeInt)
		if err != nil {
			return err
		}
		for _, s := range samples {
			res.Entities = append(res.Entities, ports.TrackedEntityRow{
				EntityID:   s.EntityID,
				EntityType: s.Role.String(),
				Location:   contracts.GeoPoint{Latitude: s.Point.Lat, Longitude: s.Point.Lon},
				RideID:     s.RideID,
				SampledAt:  s.Timestamp,
				AgeSeconds: int(now.Sub(s.Timestamp).Seconds()),
				Online:     service.hub.Online(s.EntityID),
			})
		}
		return nil
	})
	if err != nil {
		return ports.TrackedEntitiesResult{}, err
	}
	return res, nil
}
