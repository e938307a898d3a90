package interfaces

import "context"

// EventPublisher delivers domain events. key selects the partition so that
// events sharing a key keep their order.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
