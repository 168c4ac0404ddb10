// Package mocks provides test doubles for the nhtsa client.
package mocks

import (
	"context"

	nhtsa "github.com/sells-group/deal-report/pkg/nhtsa"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// DecodeVIN provides a mock function with given fields: ctx, vin
func (_m *MockClient) DecodeVIN(ctx context.Context, vin string) (*nhtsa.DecodeResult, error) {
	ret := _m.Called(ctx, vin)

	if len(ret) == 0 {
		panic("no return value specified for DecodeVIN")
	}

	var r0 *nhtsa.DecodeResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*nhtsa.DecodeResult, error)); ok {
		return rf(ctx, vin)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *nhtsa.DecodeResult); ok {
		r0 = rf(ctx, vin)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*nhtsa.DecodeResult)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, vin)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// RecallsByVehicle provides a mock function with given fields: ctx, vehicleMake, vehicleModel, year
func (_m *MockClient) RecallsByVehicle(ctx context.Context, vehicleMake string, vehicleModel string, year string) (*nhtsa.RecallsResponse, error) {
	ret := _m.Called(ctx, vehicleMake, vehicleModel, year)

	if len(ret) == 0 {
		panic("no return value specified for RecallsByVehicle")
	}

	var r0 *nhtsa.RecallsResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) (*nhtsa.RecallsResponse, error)); ok {
		return rf(ctx, vehicleMake, vehicleModel, year)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) *nhtsa.RecallsResponse); ok {
		r0 = rf(ctx, vehicleMake, vehicleModel, year)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*nhtsa.RecallsResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string, string) error); ok {
		r1 = rf(ctx, vehicleMake, vehicleModel, year)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
