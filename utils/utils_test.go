package utils

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bissonex/vscode-amiga-assembly/constants"
	"github.com/stretchr/testify/assert"
)

func TestStatusManagerTransition(t *testing.T) {
	s := NewStatusManager()
	assert.True(t, s.Is(constants.Idle))
	assert.False(t, s.Transition(constants.Loaded, constants.Ready))
	assert.True(t, s.Transition(constants.Connecting, constants.Idle, constants.Disconnected))
	assert.Equal(t, constants.Connecting, s.Get())
	s.Set(constants.Ready)
	assert.True(t, s.Is(constants.Ready, constants.Loaded))
}

func TestTimeoutManagerFires(t *testing.T) {
	mock := clock.NewMock()
	fired := make(chan struct{}, 1)
	tm := NewTimeoutManager(mock)
	tm.Start(time.Second, func() { fired <- struct{}{} })

	mock.Add(500 * time.Millisecond)
	select {
	case <-fired:
		t.Fatal("timer fired too early")
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(time.Second)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimeoutManagerCancel(t *testing.T) {
	mock := clock.NewMock()
	fired := make(chan struct{}, 1)
	tm := NewTimeoutManager(mock)
	tm.Start(time.Second, func() { fired <- struct{}{} })
	tm.Cancel()
	mock.Add(2 * time.Second)
	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSplit2set(t *testing.T) {
	set := Split2set("multiprocess+;vContSupported+; ;QNonStop+", ";")
	assert.Equal(t, 3, set.Size())
	assert.True(t, set.Contains("vContSupported+"))
	assert.False(t, set.Contains(""))
}
