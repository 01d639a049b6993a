package availability

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) WithTx(tx *sqlx.Tx) Repository {
	return m
}

func (m *MockRepository) GetDay(ctx context.Context, ownerID int64, date time.Time) (Bits, bool, error) {
	args := m.Called(ctx, ownerID, date)
	bits, _ := args.Get(0).(Bits)
	return bits, args.Bool(1), args.Error(2)
}

func (m *MockRepository) GetDayForUpdate(ctx context.Context, ownerID int64, date time.Time) (Bits, bool, error) {
	args := m.Called(ctx, ownerID, date)
	bits, _ := args.Get(0).(Bits)
	return bits, args.Bool(1), args.Error(2)
}

func (m *MockRepository) SaveDay(ctx context.Context, ownerID int64, date time.Time, bits Bits) error {
	args := m.Called(ctx, ownerID, date, bits)
	return args.Error(0)
}

func (m *MockRepository) SetRange(ctx context.Context, ownerID int64, date time.Time, startSlot, endSlot int) error {
	args := m.Called(ctx, ownerID, date, startSlot, endSlot)
	return args.Error(0)
}

func (m *MockRepository) ClearRange(ctx context.Context, ownerID int64, date time.Time, startSlot, endSlot int) (bool, error) {
	args := m.Called(ctx, ownerID, date, startSlot, endSlot)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListWindows(ctx context.Context, ownerID int64, date time.Time) ([]Window, error) {
	args := m.Called(ctx, ownerID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Window), args.Error(1)
}

func (m *MockRepository) ListWindowsForUpdate(ctx context.Context, ownerID int64, date time.Time) ([]Window, error) {
	args := m.Called(ctx, ownerID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Window), args.Error(1)
}

func (m *MockRepository) CreateWindow(ctx context.Context, w *Window) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockRepository) UpdateWindow(ctx context.Context, w *Window) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockRepository) DeleteWindow(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
