package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepository) GetOrCreateUserByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockRepository) GetUserById(id int) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockRepository) CreateMagicLink(userId int, tokenHash string, expiresAt time.Time) (MagicLink, error) {
	args := m.Called(userId, tokenHash, expiresAt)
	return args.Get(0).(MagicLink), args.Error(1)
}

func (m *MockRepository) ConsumeMagicLink(tokenHash string) (User, error) {
	args := m.Called(tokenHash)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	args := m.Called(params)
	return args.Get(0).(Channel), args.Error(1)
}

func (m *MockRepository) GetChannelById(id int) (Channel, error) {
	args := m.Called(id)
	return args.Get(0).(Channel), args.Error(1)
}

func (m *MockRepository) ListChannelsFor(userId int, after Cursor) ([]Channel, error) {
	args := m.Called(userId, after)
	return args.Get(0).([]Channel), args.Error(1)
}

func (m *MockRepository) ListDeletedChannelsFor(userId int, after Cursor) ([]Deletion, error) {
	args := m.Called(userId, after)
	return args.Get(0).([]Deletion), args.Error(1)
}

func (m *MockRepository) DeleteChannel(channelId, requesterId int) error {
	args := m.Called(channelId, requesterId)
	return args.Error(0)
}

func (m *MockRepository) IsMember(userId, channelId int) (bool, error) {
	args := m.Called(userId, channelId)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) AddMember(userId, channelId int) error {
	args := m.Called(userId, channelId)
	return args.Error(0)
}

func (m *MockRepository) ListMemberIds(channelId int) ([]int, error) {
	args := m.Called(channelId)
	return args.Get(0).([]int), args.Error(1)
}

func (m *MockRepository) CreateMessage(channelId, userId int, content string) (Message, error) {
	args := m.Called(channelId, userId, content)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockRepository) ListMessagesSince(channelId int, after Cursor) ([]Message, error) {
	args := m.Called(channelId, after)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockRepository) ListDeletedMessagesSince(channelId int, after Cursor) ([]Deletion, error) {
	args := m.Called(channelId, after)
	return args.Get(0).([]Deletion), args.Error(1)
}

func (m *MockRepository) DeleteMessage(messageId, requesterId int) error {
	args := m.Called(messageId, requesterId)
	return args.Error(0)
}

func (m *MockRepository) AddReaction(messageId, userId int, emoji string) (int, error) {
	args := m.Called(messageId, userId, emoji)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) RemoveReaction(messageId, userId int, emoji string) (int, error) {
	args := m.Called(messageId, userId, emoji)
	return args.Int(0), args.Error(1)
}
