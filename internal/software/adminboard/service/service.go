package service

import (
	"time"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/general/clock"
	"transit-sync/internal/ports"
)

// DefaultFreshWindow is how recent a sample must be to count as tracked.
const DefaultFreshWindow = 5 * time.Minute

// adminService reads monitoring data from the store and the live hub.
type adminService struct {
	uow       ports.UnitOfWork
	locations ports.LocationRepository
	replies   ports.ReplyRepository
	hub       *ws.Hub
	clock     clock.Clock
	fresh     time.Duration
}

// NewAdminService creates a new instance of the AdminService with the provided dependencies.
func NewAdminService(
	uow ports.UnitOfWork,
	locations ports.LocationRepository,
	replies ports.ReplyRepository,
	hub *ws.Hub,
	clk clock.Clock,
	freshWindow time.Duration,
) ports.AdminService {
	if freshWindow <= 0 {
		freshWindow = DefaultFreshWindow
	}
	return &adminService{
		uow:       uow,
		locations: locations,
		replies:   replies,
		hub:       hub,
		clock:     clk,
		fresh:     freshWindow,
	}
}
