package stats

import "github.com/stretchr/testify/mock"

// MockStatsUpdater is a testify mock of the Provider interface. Tests set
// expectations on the metric names the code under test should touch.
type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) RegisterMetric(metric string) {
	m.Called(metric)
}

func (m *MockStatsUpdater) Incr(metric string) {
	m.Called(metric)
}

func (m *MockStatsUpdater) Decr(metric string) {
	m.Called(metric)
}

func (m *MockStatsUpdater) Run() {
	m.Called()
}
