package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sandeepkv93/gov-coordination-portal/internal/notify"
	notifygomock "github.com/sandeepkv93/gov-coordination-portal/internal/notify/gomock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliverReturnsSenderError(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := notifygomock.NewMockSender(ctrl)
	msg := notify.Message{Kind: notify.KindResetCode, To: "a@example.gov", Subject: "s", HTML: "<p>x</p>"}
	sendErr := errors.New("smtp down")
	sender.EXPECT().Send(gomock.Any(), msg).Return(sendErr)

	d := notify.NewDispatcher(sender, discardLogger(), 2, time.Second)
	err := d.Deliver(context.Background(), msg)
	assert.ErrorIs(t, err, sendErr)
}

func TestDispatchRunsInBackgroundAndSurvivesCancelledRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := notifygomock.NewMockSender(ctrl)
	release := make(chan struct{})
	sent := make(chan error, 1)
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, msg notify.Message) error {
		<-release
		sent <- ctx.Err()
		return errors.New("ignored failure")
	})

	d := notify.NewDispatcher(sender, discardLogger(), 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, notify.Message{Kind: notify.KindLockout, To: "a@example.gov", Subject: "locked"})
	cancel()
	close(release)

	select {
	case err := <-sent:
		assert.NoError(t, err, "send context must not inherit request cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("background send did not run")
	}
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatchDropsWhenSaturated(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := notifygomock.NewMockSender(ctrl)
	block := make(chan struct{})
	var calls sync.WaitGroup
	calls.Add(1)
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).Times(1).DoAndReturn(func(context.Context, notify.Message) error {
		calls.Done()
		<-block
		return nil
	})

	d := notify.NewDispatcher(sender, discardLogger(), 1, time.Second)
	msg := notify.Message{Kind: notify.KindLockout, To: "a@example.gov", Subject: "locked"}
	d.Dispatch(context.Background(), msg)
	calls.Wait()
	d.Dispatch(context.Background(), msg)

	close(block)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatchAfterCloseIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := notifygomock.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)

	d := notify.NewDispatcher(sender, discardLogger(), 1, time.Second)
	require.NoError(t, d.Close(context.Background()))
	d.Dispatch(context.Background(), notify.Message{Kind: notify.KindLockout, To: "a@example.gov", Subject: "locked"})
}

func TestCloseHonoursContextDeadline(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := notifygomock.NewMockSender(ctrl)
	block := make(chan struct{})
	started := make(chan struct{})
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, notify.Message) error {
		close(started)
		<-block
		return nil
	})

	d := notify.NewDispatcher(sender, discardLogger(), 1, time.Minute)
	d.Dispatch(context.Background(), notify.Message{Kind: notify.KindLockout, To: "a@example.gov", Subject: "locked"})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	close(block)
}
