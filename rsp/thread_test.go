package rsp

import (
	"testing"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThreadID(t *testing.T) {
	th, err := ParseThreadID("p01.0f")
	require.NoError(t, err)
	assert.Equal(t, &Thread{ProcessID: 1, ThreadID: 0x0f, Kind: constants.CPUThread}, th)

	th, err = ParseThreadID("07")
	require.NoError(t, err)
	assert.Equal(t, DefaultProcessID, th.ProcessID)
	assert.Equal(t, constants.CopperThread, th.Kind)

	th, err = ParseThreadID("p1.3")
	require.NoError(t, err)
	assert.Equal(t, constants.OtherThread, th.Kind)

	_, err = ParseThreadID("p1")
	assert.Error(t, err)
	_, err = ParseThreadID("zz")
	assert.Error(t, err)
}

func TestThreadSpec(t *testing.T) {
	th := NewThread(DefaultProcessID, constants.SysThreadIDCPU)
	assert.Equal(t, "p1.f", th.Spec(true))
	assert.Equal(t, "f", th.Spec(false))
}

func TestParseThreadInfo(t *testing.T) {
	threads, done, err := ParseThreadInfo("mp01.07,p01.0f,l")
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, threads, 2)
	assert.Equal(t, constants.CopperThread, threads[0].Kind)
	assert.Equal(t, constants.CPUThread, threads[1].Kind)

	threads, done, err = ParseThreadInfo("mp01.07")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Len(t, threads, 1)

	_, done, err = ParseThreadInfo("l")
	require.NoError(t, err)
	assert.True(t, done)

	_, _, err = ParseThreadInfo("E01")
	assert.Error(t, err)
}

func TestThreadRegistry(t *testing.T) {
	r := NewThreadRegistry()
	cpu := r.Add(NewThread(1, 0x0f))
	assert.Same(t, cpu, r.Add(NewThread(1, 0x0f)))
	r.Add(NewThread(1, 0x07))
	r.Add(NewThread(1, 0x03))
	assert.Equal(t, 3, r.Len())

	current, ok := r.Current(constants.CPUThread)
	require.True(t, ok)
	assert.Same(t, cpu, current)

	resolved, ok := r.Resolve(&Thread{ProcessID: 1, ThreadID: 0x07})
	require.True(t, ok)
	assert.Equal(t, constants.CopperThread, resolved.Kind)

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, 0x03, all[0].ThreadID)
	assert.Equal(t, 0x0f, all[2].ThreadID)

	other := r.SetCurrent(NewThread(1, 0x04))
	current, _ = r.Current(constants.OtherThread)
	assert.Same(t, other, current)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	_, ok = r.Current(constants.CPUThread)
	assert.False(t, ok)
}
