package directory

import (
	"context"

	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockDirectory is a testify mock of the Directory contract for tests that
// need scripted lookup behavior, such as a directory that changes its answer
// between calls.
type MockDirectory struct {
	mock.Mock
}

// PublicKeyFor returns the scripted key and error for the user.
func (m *MockDirectory) PublicKeyFor(ctx context.Context, user interfaces.UserID) (interfaces.PublicKey, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.PublicKey), args.Error(1)
}
