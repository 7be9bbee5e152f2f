package mock

import (
	context "context"
	reflect "reflect"

	uuid "github.com/google/uuid"
	drops "github.com/questline/progression/internal/domain/drops"
	gomock "go.uber.org/mock/gomock"
)

// MockRoller is a mock of Roller interface.
type MockRoller struct {
	ctrl     *gomock.Controller
	recorder *MockRollerMockRecorder
	isgomock struct{}
}

// MockRollerMockRecorder is the mock recorder for MockRoller.
type MockRollerMockRecorder struct {
	mock *MockRoller
}

// NewMockRoller creates a new mock instance.
func NewMockRoller(ctrl *gomock.Controller) *MockRoller {
	mock := &MockRoller{ctrl: ctrl}
	mock.recorder = &MockRollerMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockRoller) EXPECT() *MockRollerMockRecorder {
	return m.recorder
}

// Roll mocks base method.
func (m *MockRoller) Roll(ctx context.Context, userID uuid.UUID, trigger string) (drops.Drop, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Roll", ctx, userID, trigger)
	ret0, _ := ret[0].(drops.Drop)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Roll indicates an expected call of Roll.
func (mr *MockRollerMockRecorder) Roll(ctx, userID, trigger any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Roll", reflect.TypeOf((*MockRoller)(nil).Roll), ctx, userID, trigger)
}
