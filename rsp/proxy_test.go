package rsp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bissonex/vscode-amiga-assembly/constants"
	e "github.com/bissonex/vscode-amiga-assembly/error"
	"github.com/bissonex/vscode-amiga-assembly/rsp/rsptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	supportedReply  = "multiprocess+;vContSupported+;QStartNoAckMode+;QNonStop+"
	threadInfoReply = "mp01.07,p01.0f,l"
	copperStopReply = "T05;swbreak:;thread:p01.07;0e:00c00b00;0f:00c14e18;10:00000000;11:00c034c2;1e:00005860"
	localProgram    = `/home/myh\myprog`
)

var (
	vRunRequest   = "vRun;" + HexString("dh0:myprog") + ";"
	vContCRequest = "vCont;c:p1.f"
)

func newTestProxy(t *testing.T, opts Options) *Proxy {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	p := NewProxy(opts)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func connectedProxy(t *testing.T) (*rsptest.Stub, *Proxy) {
	stub := rsptest.NewStub(t)
	stub.On(SupportString, supportedReply)
	stub.On("QStartNoAckMode", "OK")
	p := newTestProxy(t, Options{})
	require.NoError(t, p.Connect(context.Background(), "127.0.0.1", stub.Port()))
	return stub, p
}

func stubLoadReplies(stub *rsptest.Stub, segments string) {
	stub.On("Z0,0,0", "OK")
	stub.On(vRunRequest, breakStopReply)
	stub.On("qOffsets", segments)
	stub.On("qfThreadInfo", threadInfoReply)
	stub.On("g", registersReply())
	stub.On(vContCRequest, "OK")
}

// loadedProxy 已连接并在入口处停止的会话
func loadedProxy(t *testing.T) (*rsptest.Stub, *Proxy, *atomic.Int32) {
	stub, p := connectedProxy(t)
	stubLoadReplies(stub, "TextSeg=aef")
	flushed := &atomic.Int32{}
	p.SetSendPendingBreakpointsCallback(func(ctx context.Context) error {
		flushed.Add(1)
		return nil
	})
	require.NoError(t, p.Load(context.Background(), localProgram, true))
	return stub, p, flushed
}

func stopEvents(p *Proxy) chan StopEvent {
	events := make(chan StopEvent, 16)
	p.OnStop(func(event StopEvent) { events <- event })
	return events
}

func waitStop(t *testing.T, events chan StopEvent) StopEvent {
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("no stop event")
	}
	return StopEvent{}
}

func TestConnect(t *testing.T) {
	stub := rsptest.NewStub(t)
	stub.On(SupportString, supportedReply)
	stub.On("QStartNoAckMode", "OK")
	dialer := &rsptest.CountingDialer{}
	p := newTestProxy(t, Options{Dialer: dialer})

	require.NoError(t, p.Connect(context.Background(), "127.0.0.1", stub.Port()))
	assert.Equal(t, 1, dialer.Count())
	assert.Equal(t, constants.Ready, p.State())
	assert.Equal(t, Capabilities{Multiprocess: true, VCont: true, NoAckMode: true, NonStop: true}, p.Capabilities())
	assert.Equal(t, []string{SupportString, "QStartNoAckMode"}, stub.Received())

	assert.Error(t, p.Connect(context.Background(), "127.0.0.1", stub.Port()))
	assert.Equal(t, 1, dialer.Count())
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		name    string
		support string
		noAck   string
		target  error
	}{
		{"legacy stub", "vContSupported", "OK", e.ErrBinaries},
		{"missing vCont", "multiprocess+;QStartNoAckMode+", "OK", e.ErrBinaries},
		{"no ack mode refused", "multiprocess+;vContSupported+", "", e.ErrUnexpectedReturn},
		{"no ack mode error", supportedReply, "E01", nil},
		{"support error", "E01", "OK", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := rsptest.NewStub(t)
			stub.On(SupportString, tt.support)
			stub.On("QStartNoAckMode", tt.noAck)
			dialer := &rsptest.CountingDialer{}
			p := newTestProxy(t, Options{Dialer: dialer})

			err := p.Connect(context.Background(), "127.0.0.1", stub.Port())
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			} else {
				var gdbErr *e.GdbError
				assert.ErrorAs(t, err, &gdbErr)
			}
			assert.Equal(t, 1, dialer.Count())
			assert.Equal(t, constants.Disconnected, p.State())
		})
	}
}

func TestConnectDialError(t *testing.T) {
	stub := rsptest.NewStub(t)
	port := stub.Port()
	stub.CloseListener()
	p := newTestProxy(t, Options{})
	err := p.Connect(context.Background(), "127.0.0.1", port)
	assert.ErrorIs(t, err, e.ErrTransport)
	assert.Equal(t, constants.Disconnected, p.State())
}

func TestLoadStopOnEntry(t *testing.T) {
	stub, p := connectedProxy(t)
	stubLoadReplies(stub, "TextSeg=aef")
	events := stopEvents(p)
	flushed := &atomic.Int32{}
	p.SetSendPendingBreakpointsCallback(func(ctx context.Context) error {
		flushed.Add(1)
		return nil
	})

	require.NoError(t, p.Load(context.Background(), localProgram, true))
	assert.Equal(t, int32(1), flushed.Load())
	assert.Equal(t, constants.Loaded, p.State())
	assert.Equal(t, 1, stub.Count("Z0,0,0"))
	assert.Equal(t, 1, stub.Count(vRunRequest))
	assert.Equal(t, 0, stub.Count(vContCRequest))

	entry := waitStop(t, events)
	assert.Equal(t, constants.ReasonEntry, entry.Status.Reason)

	assert.Equal(t, []Segment{{ID: 0, Name: "TextSeg", Address: 0xaef}}, p.GetSegments())
	require.Len(t, p.GetThreads(), 2)
	cpu, ok := p.GetCurrentCpuThread()
	require.True(t, ok)
	assert.Equal(t, constants.SysThreadIDCPU, cpu.ThreadID)
	assert.Equal(t, uint32(17), p.CachedRegisters()[RegisterPCIndex])

	stub.Push("S5;0")
	event := waitStop(t, events)
	assert.Equal(t, 5, event.Status.Code)
	assert.Equal(t, int32(1), flushed.Load())
}

func TestLoadContinue(t *testing.T) {
	stub, p := connectedProxy(t)
	stubLoadReplies(stub, "TextSeg=aef;DataSeg=1000")
	events := stopEvents(p)
	flushed := &atomic.Int32{}
	p.SetSendPendingBreakpointsCallback(func(ctx context.Context) error {
		flushed.Add(1)
		return nil
	})

	require.NoError(t, p.Load(context.Background(), localProgram, false))
	assert.Equal(t, 0, stub.Count("Z0,0,0"))
	assert.Equal(t, 1, stub.Count(vRunRequest))
	assert.Equal(t, 1, stub.Count(vContCRequest))
	assert.Len(t, p.GetSegments(), 2)

	stub.Push("S5;0")
	waitStop(t, events)
	assert.Equal(t, int32(1), flushed.Load())

	stub.Push(breakStopReply)
	event := waitStop(t, events)
	assert.Equal(t, constants.ReasonBreakpoint, event.Status.Reason)
	assert.Equal(t, int32(1), flushed.Load())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(stub *rsptest.Stub)
		target error
	}{
		{"legacy load reply", func(stub *rsptest.Stub) { stub.On(vRunRequest, "AS;aef;20") }, e.ErrBinaries},
		{"unexpected reply", func(stub *rsptest.Stub) { stub.On(vRunRequest, "notExpected") }, e.ErrUnexpectedReturn},
		{"run error", func(stub *rsptest.Stub) { stub.On(vRunRequest, "E01") }, nil},
		{"offsets error", func(stub *rsptest.Stub) { stub.On("qOffsets", "E40") }, nil},
		{"thread info error", func(stub *rsptest.Stub) { stub.On("qfThreadInfo", "E41") }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub, p := connectedProxy(t)
			stubLoadReplies(stub, "TextSeg=aef")
			tt.setup(stub)

			err := p.Load(context.Background(), localProgram, true)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			} else {
				var gdbErr *e.GdbError
				assert.ErrorAs(t, err, &gdbErr)
			}
			assert.Equal(t, 1, stub.Count(vRunRequest))
			assert.Empty(t, p.GetSegments())
			assert.Empty(t, p.GetThreads())
			assert.Equal(t, constants.Ready, p.State())
		})
	}
}

func TestLoadEntryBreakpointRefused(t *testing.T) {
	stub, p := connectedProxy(t)
	stubLoadReplies(stub, "TextSeg=aef")
	stub.On("Z0,0,0", "")

	err := p.Load(context.Background(), localProgram, true)
	assert.ErrorIs(t, err, e.ErrUnexpectedReturn)
	assert.Equal(t, 0, stub.Count(vRunRequest))
	assert.Equal(t, constants.Ready, p.State())
}

func TestLoadEntryStopAfterEarlierStops(t *testing.T) {
	stub, p := connectedProxy(t)
	stubLoadReplies(stub, "TextSeg=aef")
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var active atomic.Int32
	var overlap atomic.Bool
	var lock sync.Mutex
	var reasons []constants.StopReason
	p.OnStop(func(event StopEvent) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		lock.Lock()
		reasons = append(reasons, event.Status.Reason)
		lock.Unlock()
		if event.Status.Reason != constants.ReasonEntry {
			started <- struct{}{}
			<-release
		}
		active.Add(-1)
	})
	// 入口停止事件通知之前，先到达一个停止回复
	p.SetSendPendingBreakpointsCallback(func(ctx context.Context) error {
		stub.Push("S05")
		<-started
		return nil
	})

	loaded := make(chan error, 1)
	go func() {
		loaded <- p.Load(context.Background(), localProgram, true)
	}()
	select {
	case <-loaded:
		t.Fatal("load returned before the earlier stop was handled")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-loaded)

	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, []constants.StopReason{constants.ReasonStep, constants.ReasonEntry}, reasons)
	assert.False(t, overlap.Load())
}

func TestLoadThreadInfoContinuation(t *testing.T) {
	stub, p := connectedProxy(t)
	stubLoadReplies(stub, "TextSeg=aef")
	stub.On("qfThreadInfo", "mp01.07")
	stub.On("qsThreadInfo", "mp01.0f", "l")

	require.NoError(t, p.Load(context.Background(), localProgram, true))
	assert.Len(t, p.GetThreads(), 2)
	assert.Equal(t, 2, stub.Count("qsThreadInfo"))
}

func TestBreakpointNotConnected(t *testing.T) {
	p := newTestProxy(t, Options{})
	assert.ErrorIs(t, p.SetBreakpoint(context.Background(), NewAddressBreakpoint(0, 4)), e.ErrNotConnected)
	assert.ErrorIs(t, p.RemoveBreakpoint(context.Background(), NewSegmentBreakpoint(0, 0, 5)), e.ErrNotConnected)
}

func TestBreakpoints(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	ctx := context.Background()
	stub.On("Z0,4", "OK")
	stub.On("Z0,4,0", "OK")
	stub.On("z0,4,0", "OK")
	stub.On("Z1,0,0;X1,a", "OK")
	stub.On("z1,a", "OK")

	bp := NewAddressBreakpoint(0, 4)
	require.NoError(t, p.SetBreakpoint(ctx, bp))
	assert.True(t, bp.Verified)

	bp = NewSegmentBreakpoint(1, 0, 4)
	require.NoError(t, p.SetBreakpoint(ctx, bp))
	require.NoError(t, p.RemoveBreakpoint(ctx, bp))
	assert.False(t, bp.Verified)
	assert.Equal(t, 1, stub.Count("z0,4,0"))

	exception := NewExceptionBreakpoint(2, 10)
	require.NoError(t, p.SetBreakpoint(ctx, exception))
	require.NoError(t, p.RemoveBreakpoint(ctx, exception))
	assert.Equal(t, 1, stub.Count("Z1,0,0;X1,a"))
	assert.Equal(t, 1, stub.Count("z1,a"))

	sent := len(stub.Received())
	assert.ErrorIs(t, p.SetBreakpoint(ctx, NewAddressBreakpoint(3, -1)), e.ErrInvalidBreakpoint)
	assert.ErrorIs(t, p.SetBreakpoint(ctx, NewSegmentBreakpoint(3, 1, 4)), e.ErrInvalidBreakpoint)
	assert.ErrorIs(t, p.RemoveBreakpoint(ctx, NewAddressBreakpoint(3, -5)), e.ErrInvalidBreakpoint)
	assert.Len(t, stub.Received(), sent)

	stub.On("Z0,8,0", "E09")
	var gdbErr *e.GdbError
	require.ErrorAs(t, p.SetBreakpoint(ctx, NewSegmentBreakpoint(4, 0, 8)), &gdbErr)
	assert.Equal(t, "E09", gdbErr.ErrorType)
}

func TestRegisters(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	ctx := context.Background()

	registers, err := p.Registers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, registers, 30)
	assert.Equal(t, Register{Name: "pc", Value: 17}, registers[0])
	assert.Equal(t, Register{Name: "sr", Value: 43690}, registers[17])

	copper, ok := p.GetThreadFromSysThreadID(constants.SysThreadIDCopper)
	require.True(t, ok)
	stub.On("p60", "00c0ffee")
	registers, err = p.Registers(ctx, copper)
	require.NoError(t, err)
	assert.Equal(t, []Register{{Name: "copper", Value: 0xc0ffee}}, registers)

	stub.On("p11", "0000000a")
	value, err := p.GetRegister(ctx, RegisterPCIndex)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), value)

	stub.On("P0=8aff", "OK")
	require.NoError(t, p.SetRegister(ctx, "d0", "8aff"))
	assert.Equal(t, 1, stub.Count("P0=8aff"))
	assert.ErrorIs(t, p.SetRegister(ctx, "xx", "00"), e.ErrUnknownRegister)

	_, err = p.Registers(ctx, NewThread(3, 3))
	assert.ErrorIs(t, err, e.ErrThreadNotFound)
}

func TestMemory(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	ctx := context.Background()

	stub.On("ma,8", "cccccccc")
	memory, err := p.GetMemory(ctx, 10, 8)
	require.NoError(t, err)
	assert.Equal(t, "cccccccc", memory)

	stub.On("Ma,2:8aff", "OK")
	require.NoError(t, p.SetMemory(ctx, 10, "8aff"))
	assert.Equal(t, 1, stub.Count("Ma,2:8aff"))

	assert.ErrorIs(t, p.SetMemory(ctx, 10, "8af"), e.ErrInvalidMemory)
	assert.ErrorIs(t, p.SetMemory(ctx, 10, "zz"), e.ErrInvalidMemory)
	assert.Equal(t, 0, stub.Count("Ma,1:8af"))

	stub.On("ma,8", "E0f")
	_, err = p.GetMemory(ctx, 10, 8)
	var gdbErr *e.GdbError
	require.ErrorAs(t, err, &gdbErr)
	assert.Equal(t, "Error during the packet parse for command send memory", gdbErr.Message)
}

func TestCpuStack(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	stub.On("QTFrame:-1", "00000001")
	stub.On("p11", "0000000a")
	stub.On("QTFrame:1", "00000001")

	cpu, ok := p.GetCurrentCpuThread()
	require.True(t, ok)
	stack, err := p.Stack(context.Background(), cpu)
	require.NoError(t, err)
	assert.Equal(t, &StackFrame{
		Frames: []StackPosition{
			{Index: -1, SegmentID: -1, Offset: 10, PC: 10, StackFrameIndex: 1},
			{Index: 1, SegmentID: -1, Offset: 10, PC: 10, StackFrameIndex: 1},
		},
		Count: 2,
	}, stack)
	assert.Equal(t, 2, stub.Count("QTFrame:-1"))
	assert.Equal(t, 1, stub.Count("QTFrame:1"))
}

func TestCpuStackInSegment(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	stub.On("QTFrame:-1", "00000000")
	stub.On("p11", "00000b00")

	cpu, _ := p.GetCurrentCpuThread()
	stack, err := p.Stack(context.Background(), cpu)
	require.NoError(t, err)
	require.Equal(t, 1, stack.Count)
	assert.Equal(t, StackPosition{Index: -1, SegmentID: 0, Offset: 0x11, PC: 0xb00, StackFrameIndex: 0}, stack.Frames[0])
}

func TestCopperStack(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	stub.On("p60", "00000001")
	copper, ok := p.GetThreadFromSysThreadID(constants.SysThreadIDCopper)
	require.True(t, ok)

	stack, err := p.Stack(context.Background(), copper)
	require.NoError(t, err)
	assert.Equal(t, &StackFrame{
		Frames: []StackPosition{{Index: -1000, SegmentID: -10, Offset: 0, PC: 1, StackFrameIndex: 0}},
		Count:  1,
	}, stack)

	stub.On("p60", "E04")
	_, err = p.Stack(context.Background(), copper)
	assert.Error(t, err)
}

func TestExecutionControl(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	ctx := context.Background()
	cpu, ok := p.GetCurrentCpuThread()
	require.True(t, ok)

	stub.On("vCont;t:p1.f", "OK")
	stub.On("vCont;s:p1.f", "OK")
	stub.On("vCont;r0,0:p1.f", "OK")
	stub.On("vCont;r400,420:p1.f", "OK")

	require.NoError(t, p.ContinueExecution(ctx, cpu))
	require.NoError(t, p.Pause(ctx, cpu))
	require.NoError(t, p.StepIn(ctx, cpu))
	require.NoError(t, p.StepToRange(ctx, cpu, 0, 0))
	require.NoError(t, p.StepToRange(ctx, cpu, 0x400, 0x420))
	for _, command := range []string{vContCRequest, "vCont;t:p1.f", "vCont;s:p1.f", "vCont;r0,0:p1.f", "vCont;r400,420:p1.f"} {
		assert.Equal(t, 1, stub.Count(command), command)
	}

	stub.On("vCont;s:p1.f", "E31")
	var gdbErr *e.GdbError
	assert.ErrorAs(t, p.StepIn(ctx, cpu), &gdbErr)

	assert.ErrorIs(t, p.ContinueExecution(ctx, NewThread(1, 3)), e.ErrThreadNotFound)
}

func TestStepWithStopReply(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	events := stopEvents(p)
	stub.On("vCont;s:p1.f", "T05;thread:p01.0f;11:00000b02")
	cpu, _ := p.GetCurrentCpuThread()

	require.NoError(t, p.StepIn(context.Background(), cpu))
	event := waitStop(t, events)
	assert.Equal(t, constants.ReasonStep, event.Status.Reason)
	assert.Equal(t, uint32(0xb02), p.CachedRegisters()[RegisterPCIndex])
}

func TestGetHaltStatus(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	stub.On("?", breakStopReply)
	stub.On("vStopped", copperStopReply, "OK")

	statuses, err := p.GetHaltStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, 5, statuses[0].Code)
	assert.Equal(t, constants.SysThreadIDCPU, statuses[0].Thread.ThreadID)
	assert.Equal(t, 5, statuses[1].Code)
	assert.Equal(t, constants.SysThreadIDCopper, statuses[1].Thread.ThreadID)
	assert.Equal(t, 1, stub.Count("?"))
	assert.Equal(t, 2, stub.Count("vStopped"))
}

func TestStopNotification(t *testing.T) {
	_, p, _ := loadedProxy(t)
	events := stopEvents(p)

	require.NoError(t, p.Inject([]byte("%"+FormatString("Stop:"+copperStopReply)[1:])))
	event := waitStop(t, events)
	require.NotNil(t, event.Status.Thread)
	assert.Equal(t, constants.CopperThread, event.Status.Thread.Kind)
	current, ok := p.GetThreadFromSysThreadID(constants.SysThreadIDCopper)
	require.True(t, ok)
	assert.Same(t, current, event.Status.Thread)

	require.NoError(t, p.Inject([]byte(FormatString("W00"))))
	event = waitStop(t, events)
	assert.True(t, event.Exited)
	assert.Eventually(t, func() bool { return p.State() == constants.Ready }, time.Second, 10*time.Millisecond)
}

func TestRequestTimeout(t *testing.T) {
	stub := rsptest.NewStub(t)
	stub.On(SupportString, supportedReply)
	stub.On("QStartNoAckMode", "OK")
	mock := clock.NewMock()
	p := newTestProxy(t, Options{Clock: mock, Timeout: time.Second})
	require.NoError(t, p.Connect(context.Background(), "127.0.0.1", stub.Port()))

	stub.Silence("ma,8")
	done := make(chan error, 1)
	go func() {
		_, err := p.GetMemory(context.Background(), 10, 8)
		done <- err
	}()
	stub.WaitFor("ma,8")
	var err error
	require.Eventually(t, func() bool {
		mock.Add(2 * time.Second)
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, err, e.ErrStubUnresponsive)

	// 调试桩仍欠ma,8的回复
	_, err = p.GetMemory(context.Background(), 10, 8)
	assert.ErrorIs(t, err, e.ErrRequestInFlight)
	assert.Equal(t, 1, stub.Count("ma,8"))

	stub.On("ma,8", "cccccccc")
	stub.Push("deadbeef")
	var memory string
	require.Eventually(t, func() bool {
		memory, err = p.GetMemory(context.Background(), 10, 8)
		return !errors.Is(err, e.ErrRequestInFlight)
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "cccccccc", memory)
}

func TestRequestContextCancel(t *testing.T) {
	stub, p := connectedProxy(t)
	stub.Silence("ma,8")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.GetMemory(ctx, 10, 8)
		done <- err
	}()
	stub.WaitFor("ma,8")
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("request not cancelled")
	}
}

func TestRequestLateReplyDiscarded(t *testing.T) {
	stub, p := connectedProxy(t)
	stub.Silence("ma,4")
	stub.On("p11", "00000011")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.GetMemory(ctx, 10, 4)
		done <- err
	}()
	stub.WaitFor("ma,4")
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	_, err := p.GetRegister(context.Background(), RegisterPCIndex)
	assert.ErrorIs(t, err, e.ErrRequestInFlight)
	assert.Equal(t, 0, stub.Count("p11"))

	stub.Push("deadbeef")
	var value uint32
	require.Eventually(t, func() bool {
		value, err = p.GetRegister(context.Background(), RegisterPCIndex)
		return !errors.Is(err, e.ErrRequestInFlight)
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11), value)
	assert.Equal(t, 1, stub.Count("p11"))
}

func TestLateStopReplyForwarded(t *testing.T) {
	stub, p, _ := loadedProxy(t)
	events := stopEvents(p)
	cpu, _ := p.GetCurrentCpuThread()
	stub.Silence("vCont;s:p1.f")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.StepIn(ctx, cpu)
	}()
	stub.WaitFor("vCont;s:p1.f")
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	stub.Push(breakStopReply)
	event := waitStop(t, events)
	assert.Equal(t, constants.ReasonBreakpoint, event.Status.Reason)
}

func TestRequestInFlight(t *testing.T) {
	stub, p := connectedProxy(t)
	stub.Silence("ma,8")
	go func() {
		_, _ = p.request(context.Background(), "ma,8", false)
	}()
	stub.WaitFor("ma,8")
	_, err := p.request(context.Background(), "g", false)
	assert.ErrorIs(t, err, e.ErrRequestInFlight)
}

func TestCloseFailsRequests(t *testing.T) {
	stub, p := connectedProxy(t)
	stub.Silence("ma,8")
	done := make(chan error, 1)
	go func() {
		_, err := p.GetMemory(context.Background(), 10, 8)
		done <- err
	}()
	stub.WaitFor("ma,8")
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, e.ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("request not failed on close")
	}
	assert.Equal(t, constants.Disconnected, p.State())
	_, err := p.GetMemory(context.Background(), 10, 8)
	assert.ErrorIs(t, err, e.ErrDisconnected)
}

func TestRemoteDisconnect(t *testing.T) {
	stub, p := connectedProxy(t)
	stub.Disconnect()
	assert.Eventually(t, func() bool { return p.State() == constants.Disconnected }, 5*time.Second, 10*time.Millisecond)
}

func TestProgramPath(t *testing.T) {
	assert.Equal(t, "dh0:myprog", programPath(localProgram))
	assert.Equal(t, "dh0:hello", programPath("dh0:hello"))
	assert.Equal(t, "dh0:prog", programPath("prog"))
	assert.Equal(t, "dh0:prog.exe", programPath(`C:\work\prog.exe`))
}
