package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	events []string
}

func (r *recorder) dep(name string, requires ...string) Func {
	return Func{
		Name:     name,
		Requires: requires,
		StartFunc: func(ctx context.Context) error {
			r.events = append(r.events, "start "+name)
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			r.events = append(r.events, "stop "+name)
			return nil
		},
	}
}

func newStartup(maxAttempts int) *Startup {
	s := NewStartup(zapadapter.NewZapEctoLogger(zap.NewNop(), nil), maxAttempts)
	s.backoffUnit = time.Millisecond
	return s
}

func TestStartup_DependencyOrder(t *testing.T) {
	rec := &recorder{}
	s := newStartup(1)
	s.AddDependency(rec.dep("http", "database", "locker"))
	s.AddDependency(rec.dep("database"))
	s.AddDependency(rec.dep("locker", "redis"))
	s.AddDependency(rec.dep("redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start database", "start redis", "start locker", "start http"}, rec.events)
	assert.Equal(t, StatusStarted, s.Status("http"))

	rec.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop http", "stop locker", "stop redis", "stop database"}, rec.events)
	assert.Equal(t, StatusStopped, s.Status("database"))
}

func TestStartup_RetriesFailedDependency(t *testing.T) {
	rec := &recorder{}
	calls := 0
	s := newStartup(3)
	s.AddDependency(rec.dep("database"))
	s.AddDependency(Func{
		Name:     "redis",
		Requires: []string{"database"},
		StartFunc: func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
	// database started once and was not restarted on retry
	assert.Equal(t, []string{"start database"}, rec.events)
}

func TestStartup_GivesUp(t *testing.T) {
	s := newStartup(2)
	s.AddDependency(Func{
		Name:      "kafka",
		StartFunc: func(ctx context.Context) error { return errors.New("no brokers") },
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "no brokers")
	assert.Equal(t, StatusFailed, s.Status("kafka"))
}

func TestStartup_UnknownAndCyclicDependencies(t *testing.T) {
	rec := &recorder{}
	s := newStartup(1)
	s.AddDependency(rec.dep("http", "missing"))
	assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency")

	s = newStartup(1)
	s.AddDependency(rec.dep("a", "b"))
	s.AddDependency(rec.dep("b", "a"))
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}

func TestStartup_CancelledWhileWaiting(t *testing.T) {
	s := newStartup(5)
	s.backoffUnit = time.Hour
	s.AddDependency(Func{
		Name:      "database",
		StartFunc: func(ctx context.Context) error { return errors.New("down") },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Start(ctx), context.DeadlineExceeded)
}
