package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const MaintenanceKey = "crash:maintenance"

// Maintenance reads the operator's maintenance flag. Any value other than
// "0" or "false" under MaintenanceKey counts as active.
type Maintenance struct {
	client *redis.Client
}

func NewMaintenance(client *redis.Client) *Maintenance {
	return &Maintenance{client: client}
}

func (m *Maintenance) MaintenanceActive(ctx context.Context) (bool, error) {
	val, err := m.client.Get(ctx, MaintenanceKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read maintenance flag: %w", err)
	}
	return val != "0" && val != "false", nil
}

// SetMaintenance turns the flag on or off.
func (m *Maintenance) SetMaintenance(ctx context.Context, on bool) error {
	if !on {
		return m.client.Del(ctx, MaintenanceKey).Err()
	}
	return m.client.Set(ctx, MaintenanceKey, "1", 0).Err()
}
