package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/metrics"
)

// LocalFanout delivers straight to this node's registry. It is the fan-out
// used when no cluster bus is configured.
type LocalFanout struct {
	registry contracts.Registry
}

var _ contracts.Fanout = (*LocalFanout)(nil)

func NewLocalFanout(registry contracts.Registry) *LocalFanout {
	return &LocalFanout{registry: registry}
}

func (f *LocalFanout) ToUser(ctx context.Context, userID string, frame any, exceptConnID string) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	n := f.registry.SendToUser(ctx, userID, data, exceptConnID)
	metrics.FanoutDeliveries.Add(float64(n))
	return nil
}

// send writes one frame to a single connection.
func send(ctx context.Context, c contracts.Client, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return c.Send(ctx, data)
}
