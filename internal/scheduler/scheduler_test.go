package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestStartRunsSetupAndPublishesResult(t *testing.T) {
	s, val, err := Start(context.Background(), testLog(), func(ctx context.Context) (any, error) {
		return "root-rp", nil
	})
	require.NoError(t, err)
	require.Equal(t, "root-rp", val)
	defer s.Stop()
}

func TestStartPropagatesSetupError(t *testing.T) {
	_, _, err := Start(context.Background(), testLog(), func(ctx context.Context) (any, error) {
		return nil, errors.New("login failed")
	})
	require.Error(t, err)
}

func TestSubmitRunsOnLoopGoroutine(t *testing.T) {
	s, _, err := Start(context.Background(), testLog(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Stop()

	val, err := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestSubmitSerializesConcurrentCallers(t *testing.T) {
	s, _, err := Start(context.Background(), testLog(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Stop()

	var active int
	maxActive := make(chan int, 10)
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = s.Submit(context.Background(), func(ctx context.Context) (any, error) {
				active++
				maxActive <- active
				time.Sleep(5 * time.Millisecond)
				active--
				return nil, nil
			})
		}()
	}
	for i := 0; i < 5; i++ {
		require.Equal(t, 1, <-maxActive)
	}
}

func TestStopCancelsContext(t *testing.T) {
	s, _, err := Start(context.Background(), testLog(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	s.Stop()

	_, err = s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
}
