// Package mocks holds testify mocks of the engine collaborators.
package mocks

import (
	"context"

	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockMessenger is a mock implementation of engine.Messenger.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Dispatch(ctx context.Context, task *models.Task) error {
	args := m.Called(ctx, task)

	return args.Error(0)
}

func (m *MockMessenger) SendEvent(ctx context.Context, event events.Event) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockMessenger) SendTimer(ctx context.Context, timer models.Timer) error {
	args := m.Called(ctx, timer)

	return args.Error(0)
}

// MockLocker is a mock implementation of lock.Locker.
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Lock(ctx context.Context, key string) (lock.Release, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(lock.Release), args.Error(1)
}

// NoopRelease is a lock.Release doing nothing, for MockLocker expectations.
var NoopRelease lock.Release = func(context.Context) error { return nil }
