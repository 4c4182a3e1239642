//go:build test

package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blelink/internal/device"
)

// MockGateway is a testify mock of device.Gateway for call-level expectations.
// Use FakeGateway when the test needs a stateful peripheral instead.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) OpenAdapter(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockGateway) CloseAdapter() error {
	return m.Called().Error(0)
}

func (m *MockGateway) StartDiscovery(ctx context.Context, opts device.DiscoveryOptions, handler func(device.AdvertisedDevice)) error {
	return m.Called(ctx, opts, handler).Error(0)
}

func (m *MockGateway) StopDiscovery() error {
	return m.Called().Error(0)
}

func (m *MockGateway) Connect(ctx context.Context, systemID string, timeout time.Duration) error {
	return m.Called(ctx, systemID, timeout).Error(0)
}

func (m *MockGateway) Disconnect(systemID string) error {
	return m.Called(systemID).Error(0)
}

func (m *MockGateway) Services(ctx context.Context, systemID string) ([]string, error) {
	args := m.Called(ctx, systemID)
	services, _ := args.Get(0).([]string)
	return services, args.Error(1)
}

func (m *MockGateway) Characteristics(ctx context.Context, systemID, service string) ([]device.Characteristic, error) {
	args := m.Called(ctx, systemID, service)
	chars, _ := args.Get(0).([]device.Characteristic)
	return chars, args.Error(1)
}

func (m *MockGateway) Write(ctx context.Context, systemID, service, characteristic string, data []byte) error {
	return m.Called(ctx, systemID, service, characteristic, data).Error(0)
}

func (m *MockGateway) SubscribeNotify(ctx context.Context, systemID, service, characteristic string, enable bool) error {
	return m.Called(ctx, systemID, service, characteristic, enable).Error(0)
}

func (m *MockGateway) ConnectedDevices(ctx context.Context, services []string) ([]string, error) {
	args := m.Called(ctx, services)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockGateway) SetEventHandler(handler func(device.Event)) {
	m.Called(handler)
}

var _ device.Gateway = (*MockGateway)(nil)
