package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// PublisherMock mocks the telemetry.Publisher used by the audit emitter.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// JSONPublisherMock mocks the observability.Publisher used for websocket
// events.
type JSONPublisherMock struct {
	mock.Mock
}

func (m *JSONPublisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}
