package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeService struct {
	name      string
	startErr  error
	started   bool
	stopped   bool
	stopOrder *[]string
}

func (f *fakeService) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.stopped = true
	if f.stopOrder != nil {
		*f.stopOrder = append(*f.stopOrder, f.name)
	}
	return nil
}

func TestSupervisorStartsAndStopsInReverseOrder(t *testing.T) {
	var order []string
	a := &fakeService{name: "a", stopOrder: &order}
	b := &fakeService{name: "b", stopOrder: &order}

	sup := NewSupervisor(zap.NewNop())
	sup.Add("a", a, true)
	sup.Add("b", b, true)

	require.NoError(t, sup.Start())
	require.True(t, a.started)
	require.True(t, b.started)

	require.NoError(t, sup.Stop(context.Background()))
	require.Equal(t, []string{"b", "a"}, order)
}

func TestSupervisorSkipsDisabledServices(t *testing.T) {
	a := &fakeService{name: "a"}
	sup := NewSupervisor(zap.NewNop())
	sup.Add("a", a, false)

	require.NoError(t, sup.Start())
	require.False(t, a.started)
}

func TestSupervisorRollsBackOnPartialStartFailure(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b", startErr: errBoom}

	sup := NewSupervisor(zap.NewNop())
	sup.Add("a", a, true)
	sup.Add("b", b, true)

	err := sup.Start()
	require.Error(t, err)
	require.True(t, a.started)
	require.True(t, a.stopped)
}

func TestSupervisorStopWithTimeout(t *testing.T) {
	a := &fakeService{name: "a"}
	sup := NewSupervisor(zap.NewNop())
	sup.Add("a", a, true)
	require.NoError(t, sup.Start())
	require.NoError(t, sup.StopWithTimeout(time.Second))
	require.True(t, a.stopped)
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
