package workers

import (
	"chat-presence/errors"
	"chat-presence/mocks"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSupervisor_Restarts_Until_Clean_Return(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		fail      func() error
		wantCalls int32
	}{
		{"Clean return runs once", 0, nil, 1},
		{"Panics are recovered and restarted", 2, func() error { panic("sweep exploded") }, 3},
		{"Errors are restarted", 3, func() error { return errors.ErrWorkerPanic }, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ctrl := gomock.NewController(t)
			workerMock := mocks.NewMockWorker(ctrl)

			// Given a worker failing a fixed number of times before returning nil
			var calls atomic.Int32
			workerMock.EXPECT().
				Run(gomock.Any()).
				DoAndReturn(func(ctx context.Context) error {
					if calls.Add(1) <= tt.failures {
						return tt.fail()
					}
					return nil
				}).
				Times(int(tt.wantCalls))

			sup := NewSupervisor(slog.Default())
			sup.restartDelay = time.Millisecond

			// When the supervisor runs it
			done := make(chan struct{})
			go func() {
				sup.Add(workerMock).Run(context.Background())
				close(done)
			}()

			// Then Run returns once the worker finished cleanly
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				req.Fail("Supervisor should have returned after the worker succeeded")
			}
			req.Equal(tt.wantCalls, calls.Load())
		})
	}
}

func TestSupervisor_Stop_Cancels_Workers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	workerMock := mocks.NewMockWorker(ctrl)

	started := make(chan struct{})
	// Given a worker blocking until its context is canceled
	workerMock.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}).
		Times(1)

	sup := NewSupervisor(slog.Default())
	done := make(chan struct{})
	go func() {
		sup.Add(workerMock).Run(context.Background())
		close(done)
	}()
	<-started

	// When the supervisor is stopped
	sup.Stop()

	// Then Run returns without restarting the worker
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Supervisor should have returned after Stop")
	}
}
