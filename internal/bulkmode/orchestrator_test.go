package bulkmode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molaco/codeindex/internal/vector"
)

type fakeStore struct {
	entered  bool
	exited   bool
	inBulk   bool
	enterErr error
	exitErr  error
}

func (f *fakeStore) EnterBulkMode(cfg vector.BulkModeConfig) error {
	if f.enterErr != nil {
		return f.enterErr
	}
	f.entered = true
	f.inBulk = true
	return nil
}

func (f *fakeStore) ExitBulkMode() error {
	f.exited = true
	f.inBulk = false
	return f.exitErr
}

func (f *fakeStore) InBulkMode() bool { return f.inBulk }

func TestOrchestrator_RunSuccess(t *testing.T) {
	fs := &fakeStore{}
	o := New(fs, vector.DefaultBulkModeConfig())

	rebuilt := false
	err := o.Run(func() error { return nil }, func() error { rebuilt = true; return nil })

	require.NoError(t, err)
	assert.True(t, fs.entered)
	assert.True(t, fs.exited)
	assert.True(t, rebuilt)
	assert.False(t, o.IsActive())
}

func TestOrchestrator_RestoresOnClosureFailure(t *testing.T) {
	fs := &fakeStore{}
	o := New(fs, vector.DefaultBulkModeConfig())

	wantErr := errors.New("bulk insert failed")
	err := o.Run(func() error { return wantErr }, func() error { return nil })

	require.ErrorIs(t, err, wantErr)
	assert.True(t, fs.exited)
	assert.False(t, fs.inBulk)
	assert.False(t, o.IsActive())
}

func TestOrchestrator_RestoresOnPanic(t *testing.T) {
	fs := &fakeStore{}
	o := New(fs, vector.DefaultBulkModeConfig())

	assert.Panics(t, func() {
		_ = o.Run(func() error { panic("boom") }, nil)
	})
	assert.True(t, fs.exited)
	assert.False(t, o.IsActive())
}

func TestOrchestrator_DoubleEnterForbidden(t *testing.T) {
	fs := &fakeStore{}
	o := New(fs, vector.DefaultBulkModeConfig())

	entered := make(chan struct{})
	blocked := make(chan struct{})
	go func() {
		_ = o.Run(func() error {
			close(entered)
			<-blocked
			return nil
		}, nil)
	}()

	<-entered
	err := o.Run(func() error { return nil }, nil)
	require.Error(t, err)
	close(blocked)
}
