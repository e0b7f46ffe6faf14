package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"auth_expiry_notifier/internal/app"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	app.NotificationService
	immediate, deferred int
}

func (f *fakeService) CheckAndNotify(context.Context, app.Scope) *app.PassResult {
	f.immediate++
	return &app.PassResult{Success: true, NotificationsSent: 1}
}

func (f *fakeService) QueueExpiring(context.Context, app.Scope) *app.PassResult {
	f.deferred++
	return &app.PassResult{Success: false, Errors: []string{"boom"}}
}

type fakeReporter struct {
	modes []string
}

func (f *fakeReporter) ReportPass(mode string, _ *app.PassResult) {
	f.modes = append(f.modes, mode)
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRunPassDispatchesByMode(t *testing.T) {
	svc := &fakeService{}
	rep := &fakeReporter{}

	NewNotificationScheduler(svc, rep, quietLogger(), "@daily", app.ModeImmediate).runPass()
	NewNotificationScheduler(svc, rep, quietLogger(), "@daily", app.ModeDeferred).runPass()

	assert.Equal(t, 1, svc.immediate)
	assert.Equal(t, 1, svc.deferred)
	assert.Equal(t, []string{app.ModeImmediate, app.ModeDeferred}, rep.modes)
}

func TestRunPassWithoutReporter(t *testing.T) {
	svc := &fakeService{}
	NewNotificationScheduler(svc, nil, quietLogger(), "@daily", app.ModeImmediate).runPass()
	assert.Equal(t, 1, svc.immediate)
}

func TestStartRejectsBadConfig(t *testing.T) {
	err := NewNotificationScheduler(&fakeService{}, nil, quietLogger(), "every blue moon", app.ModeImmediate).Start()
	assert.Error(t, err)

	err = NewNotificationScheduler(&fakeService{}, nil, quietLogger(), "@daily", app.ModeSingle).Start()
	assert.Error(t, err)

	s := NewNotificationScheduler(&fakeService{}, nil, quietLogger(), "0 8 * * *", app.ModeImmediate)
	require.NoError(t, s.Start())
	s.Stop()
}

type slowService struct {
	app.NotificationService
	calls   atomic.Int32
	release chan struct{}
}

func (f *slowService) CheckAndNotify(context.Context, app.Scope) *app.PassResult {
	f.calls.Add(1)
	<-f.release
	return &app.PassResult{Success: true}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	svc := &slowService{release: make(chan struct{})}
	s := NewNotificationScheduler(svc, nil, quietLogger(), "@every 1s", app.ModeImmediate)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return svc.calls.Load() == 1 }, 3*time.Second, 50*time.Millisecond)
	// at least two more ticks fire while the first pass is still running
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int32(1), svc.calls.Load())

	close(svc.release)
	s.Stop()
}
