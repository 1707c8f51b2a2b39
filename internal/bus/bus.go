// Package bus carries assessment events between the API and the worker,
// in-process or over NATS.
package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/scamscore/internal/domain"
)

var (
	// ErrClosed is returned by every operation on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrTenantRequired is returned when no tenant is given.
	ErrTenantRequired = errors.New("tenantID is required")
)

// New returns the bus named by cfg.Type: "channel" for Community, "nats"
// for Pro.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// checkPublishTenant rejects the empty tenant and the AllTenants wildcard,
// which is only meaningful to Subscribe.
func checkPublishTenant(tenantID string) error {
	switch tenantID {
	case "":
		return ErrTenantRequired
	case domain.AllTenants:
		return fmt.Errorf("cannot publish to all tenants (%q)", tenantID)
	}
	return nil
}
