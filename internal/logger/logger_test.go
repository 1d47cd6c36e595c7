package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingTracker struct {
	errs []error
	tags []map[string]string
}

func (r *recordingTracker) CaptureError(_ context.Context, err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func (r *recordingTracker) Flush() bool { return true }

func TestErrorwForwardsToTracker(t *testing.T) {
	rt := &recordingTracker{}
	l := &Logger{SugaredLogger: zap.NewNop().Sugar(), tracker: rt}

	boom := errors.New("boom")
	l.With("component", "test").Errorw("cycle failed", "err", boom, "cycle", 3)

	require.Len(t, rt.errs, 1)
	assert.ErrorIs(t, rt.errs[0], boom)
	assert.Equal(t, "cycle failed", rt.tags[0]["message"])
	assert.Equal(t, "3", rt.tags[0]["cycle"])
}

func TestErrorwWithoutErrField(t *testing.T) {
	rt := &recordingTracker{}
	l := &Logger{SugaredLogger: zap.NewNop().Sugar(), tracker: rt}

	l.Errorw("no error value")
	require.Len(t, rt.errs, 1)
	assert.EqualError(t, rt.errs[0], "no error value")
}

func TestInitAndGet(t *testing.T) {
	require.NoError(t, Init("debug", "development"))
	assert.NotNil(t, Get())
	assert.NotNil(t, OrGlobal(nil))

	n := Nop()
	assert.Same(t, n, OrGlobal(n))
}
