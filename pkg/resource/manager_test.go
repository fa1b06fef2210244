package resource

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartAllRespectsDependencyOverPriority(t *testing.T) {
	var order []string
	m := NewManager()
	m.Register(Resource{
		Name: "clock", Priority: 6,
		Start: func(ctx context.Context) error { order = append(order, "clock"); return nil },
	})
	m.Register(Resource{
		Name: "slotScheduler", Priority: 7, Dependencies: []string{"clock"},
		Start: func(ctx context.Context) error { order = append(order, "slotScheduler"); return nil },
	})
	m.Register(Resource{
		Name: "radio", Priority: 1,
		Start: func(ctx context.Context) error { order = append(order, "radio"); return nil },
	})

	res := m.StartAll(context.Background())
	require.NoError(t, res.Err)
	require.Equal(t, []string{"radio", "clock", "slotScheduler"}, order)
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	var stopped []string
	m := NewManager()
	m.Register(Resource{
		Name: "radio", Priority: 1,
		Start: func(ctx context.Context) error { return nil },
		Stop:  func() error { stopped = append(stopped, "radio"); return nil },
	})
	m.Register(Resource{
		Name: "audioInput", Priority: 3,
		Start: func(ctx context.Context) error { return nil },
		Stop:  func() error { stopped = append(stopped, "audioInput"); return nil },
	})
	m.Register(Resource{
		Name: "audioOutput", Priority: 4, Dependencies: []string{"audioInput"},
		Start: func(ctx context.Context) error { return fmt.Errorf("device busy") },
	})

	res := m.StartAll(context.Background())
	require.Error(t, res.Err)
	require.Equal(t, "audioOutput", res.FailedResource)
	require.Equal(t, []string{"radio", "audioInput"}, res.Started,
		"error context keeps what had started before the failure")
	require.Equal(t, []string{"audioInput", "radio"}, stopped, "rollback must stop in reverse start order")
}

func TestOptionalResourceFailureDoesNotRollback(t *testing.T) {
	m := NewManager()
	m.Register(Resource{
		Name: "icomWlanAudioAdapter", Priority: 2, Optional: true,
		Start: func(ctx context.Context) error { return fmt.Errorf("not present") },
	})
	m.Register(Resource{
		Name: "radio", Priority: 1,
		Start: func(ctx context.Context) error { return nil },
	})

	res := m.StartAll(context.Background())
	require.NoError(t, res.Err)
	require.Contains(t, res.Started, "radio")
}

func TestStopAllAggregatesErrorsWithoutStoppingShort(t *testing.T) {
	m := NewManager()
	m.Register(Resource{
		Name: "a", Priority: 1,
		Start: func(ctx context.Context) error { return nil },
		Stop:  func() error { return fmt.Errorf("a failed to stop") },
	})
	m.Register(Resource{
		Name: "b", Priority: 2,
		Start: func(ctx context.Context) error { return nil },
		Stop:  func() error { return fmt.Errorf("b failed to stop") },
	})

	res := m.StartAll(context.Background())
	require.NoError(t, res.Err)

	err := m.StopAll()
	require.Error(t, err)
	require.Contains(t, err.Error(), "a failed to stop")
	require.Contains(t, err.Error(), "b failed to stop")
}

func TestStartAllDetectsDependencyCycle(t *testing.T) {
	m := NewManager()
	m.Register(Resource{Name: "x", Dependencies: []string{"y"}, Start: func(ctx context.Context) error { return nil }})
	m.Register(Resource{Name: "y", Dependencies: []string{"x"}, Start: func(ctx context.Context) error { return nil }})

	res := m.StartAll(context.Background())
	require.Error(t, res.Err)
}
