package mock

import (
	context "context"
	reflect "reflect"

	engine "github.com/lotline/lotline/lotline/engine"
	gomock "go.uber.org/mock/gomock"
)

// MockPaymentClient is a mock of PaymentClient interface.
type MockPaymentClient struct {
	ctrl     *gomock.Controller
	recorder *MockPaymentClientMockRecorder
	isgomock struct{}
}

// MockPaymentClientMockRecorder is the mock recorder for MockPaymentClient.
type MockPaymentClientMockRecorder struct {
	mock *MockPaymentClient
}

// NewMockPaymentClient creates a new mock instance.
func NewMockPaymentClient(ctrl *gomock.Controller) *MockPaymentClient {
	mock := &MockPaymentClient{ctrl: ctrl}
	mock.recorder = &MockPaymentClientMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockPaymentClient) EXPECT() *MockPaymentClientMockRecorder {
	return m.recorder
}

// CreateCheckout mocks base method.
func (m *MockPaymentClient) CreateCheckout(ctx context.Context, s *engine.Settlement) (string, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "CreateCheckout", ctx, s)
	ret0, _ := ret[0].(string)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// CreateCheckout indicates an expected call of CreateCheckout.
func (mr *MockPaymentClientMockRecorder) CreateCheckout(ctx, s any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "CreateCheckout", reflect.TypeOf((*MockPaymentClient)(nil).CreateCheckout), ctx, s)
}

// VerifyCheckout mocks base method.
func (m *MockPaymentClient) VerifyCheckout(ctx context.Context, checkoutID string) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "VerifyCheckout", ctx, checkoutID)
	ret0, _ := ret[0].(bool)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// VerifyCheckout indicates an expected call of VerifyCheckout.
func (mr *MockPaymentClientMockRecorder) VerifyCheckout(ctx, checkoutID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "VerifyCheckout", reflect.TypeOf((*MockPaymentClient)(nil).VerifyCheckout), ctx, checkoutID)
}
