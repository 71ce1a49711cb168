package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/josh5210/writefully/internal/llm"
)

// MockLLMClient is a mock type for the llm.Client type
type MockLLMClient struct {
	mock.Mock
}

// GenerateContent provides a mock function with given fields: ctx, userPrompt, systemPrompt, category
func (_m *MockLLMClient) GenerateContent(ctx context.Context, userPrompt string, systemPrompt string, category llm.OperationCategory) (*llm.Response, error) {
	ret := _m.Called(ctx, userPrompt, systemPrompt, category)

	var r0 *llm.Response
	if rf, ok := ret.Get(0).(func(context.Context, string, string, llm.OperationCategory) *llm.Response); ok {
		r0 = rf(ctx, userPrompt, systemPrompt, category)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*llm.Response)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string, llm.OperationCategory) error); ok {
		r1 = rf(ctx, userPrompt, systemPrompt, category)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// ModelName provides a mock function with no fields
func (_m *MockLLMClient) ModelName() string {
	ret := _m.Called()

	var r0 string
	if rf, ok := ret.Get(0).(func() string); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(string)
	}

	return r0
}

// NewMockLLMClient creates a new instance of MockLLMClient. It also registers a testing interface on the mock.
// The first argument is typically a *testing.T value.
func NewMockLLMClient(t interface {
	mock.TestingT
	Helper()
}) *MockLLMClient {
	m := &MockLLMClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ llm.Client = (*MockLLMClient)(nil)
