package eventlog

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// Handler processes one event in-process.
type Handler func(ctx context.Context, evt store.DomainEvent) error

// LocalSubscriber delivers to an in-process handler. A panicking handler counts
// as a failed attempt.
type LocalSubscriber struct {
	id     string
	handle Handler
}

func NewLocalSubscriber(id string, h Handler) *LocalSubscriber {
	return &LocalSubscriber{id: id, handle: h}
}

func (s *LocalSubscriber) ID() string   { return s.id }
func (s *LocalSubscriber) Type() string { return "local" }

func (s *LocalSubscriber) Deliver(ctx context.Context, evt store.DomainEvent) (resp map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %s panicked: %v", s.id, r)
		}
	}()
	if err := s.handle(ctx, evt); err != nil {
		return nil, err
	}
	return map[string]interface{}{"handled_by": s.id}, nil
}
