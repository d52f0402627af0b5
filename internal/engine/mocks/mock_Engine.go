// Package mocks provides test doubles for the reduction engine.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"
	engine "github.com/vulcan-sns/vulcan-reduce/internal/engine"
)

// MockEngine is a mock type for the Engine interface.
type MockEngine struct {
	mock.Mock
}

// Probe provides a mock function with given fields: ctx, eventFile
func (_m *MockEngine) Probe(ctx context.Context, eventFile string) (*engine.RunInfo, error) {
	ret := _m.Called(ctx, eventFile)

	if len(ret) == 0 {
		panic("no return value specified for Probe")
	}

	var r0 *engine.RunInfo
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*engine.RunInfo, error)); ok {
		return rf(ctx, eventFile)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*engine.RunInfo)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// Reduce provides a mock function with given fields: ctx, req
func (_m *MockEngine) Reduce(ctx context.Context, req engine.Request) (*engine.Focused, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Reduce")
	}

	var r0 *engine.Focused
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, engine.Request) (*engine.Focused, error)); ok {
		return rf(ctx, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*engine.Focused)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// ExportGSAS provides a mock function with given fields: ctx, req
func (_m *MockEngine) ExportGSAS(ctx context.Context, req engine.ExportRequest) error {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for ExportGSAS")
	}

	if rf, ok := ret.Get(0).(func(context.Context, engine.ExportRequest) error); ok {
		return rf(ctx, req)
	}
	return ret.Error(0)
}

// NewMockEngine creates a new instance of MockEngine. It registers a cleanup
// function that asserts the mock's expectations.
func NewMockEngine(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEngine {
	m := &MockEngine{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
