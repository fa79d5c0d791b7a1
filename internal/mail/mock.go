package mail

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendMagicLink(ctx context.Context, to, verifyURL string) error {
	args := m.Called(ctx, to, verifyURL)
	return args.Error(0)
}
