package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/session"
)

// Store is a testify mock of session.Store
type Store struct {
	mock.Mock
}

var _ session.Store = (*Store)(nil)

func (m *Store) Load(ctx context.Context, id string) ([]content.Message, bool, error) {
	args := m.Called(ctx, id)
	msgs, _ := args.Get(0).([]content.Message)
	return msgs, args.Bool(1), args.Error(2)
}

func (m *Store) Save(ctx context.Context, id string, messages []content.Message, title string, tokenCount int) error {
	args := m.Called(ctx, id, messages, title, tokenCount)
	return args.Error(0)
}

func (m *Store) Title(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *Store) LastUsage(ctx context.Context, id string) (content.Usage, bool, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(content.Usage)
	return u, args.Bool(1), args.Error(2)
}
