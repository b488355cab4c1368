package observability

import (
	"context"
	"sync/atomic"
)

// Publisher delivers JSON domain events to the message broker.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error
}

type publisherHolder struct {
	p Publisher
}

var defaultPublisher atomic.Pointer[publisherHolder]

// SetPublisher installs the process-wide event publisher. Passing nil disables
// event publishing.
func SetPublisher(publisher Publisher) {
	if publisher == nil {
		defaultPublisher.Store(nil)
		return
	}
	defaultPublisher.Store(&publisherHolder{p: publisher})
}

// PublishEvent sends an event through the installed publisher, if any.
func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	holder := defaultPublisher.Load()
	if holder == nil {
		return nil
	}

	err := holder.p.PublishJSON(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
