package access

import (
	"context"
	"sync"
)

// Observer receives lifecycle events from the layer. Implementations must be
// safe for concurrent use.
type Observer interface {
	HandleAcquired()
	HandleReleased()
	CacheHit()
	CacheMiss()
	RetryScheduled(attempt int, err error)
	TaskFinished(state TaskState)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) HandleAcquired() {}
func (NopObserver) HandleReleased() {}
func (NopObserver) CacheHit() {}
func (NopObserver) CacheMiss() {}
func (NopObserver) RetryScheduled(int, error) {}
func (NopObserver) TaskFinished(TaskState) {}

// Observe decorates c so that every acquired Handle is reported to obs, and
// its release is reported once no matter how often Close is called.
func Observe(c Connector, obs Observer) Connector {
	if obs == nil {
		return c
	}
	return ConnectorFunc(func(ctx context.Context) (Handle, error) {
		h, err := c.Connect(ctx)
		if err != nil {
			return nil, err
		}
		obs.HandleAcquired()
		return &observedHandle{Handle: h, obs: obs}, nil
	})
}

type observedHandle struct {
	Handle
	obs  Observer
	once sync.Once
}

func (h *observedHandle) Close() error {
	err := h.Handle.Close()
	h.once.Do(h.obs.HandleReleased)
	return err
}
