package events

import "github.com/stretchr/testify/mock"

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(subject string, payload any) error {
	args := m.Called(subject, payload)
	return args.Error(0)
}
