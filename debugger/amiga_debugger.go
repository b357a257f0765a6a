package debugger

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	e "github.com/bissonex/vscode-amiga-assembly/error"
	"github.com/bissonex/vscode-amiga-assembly/rsp"
	"github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// AmigaDebugger 基于fs-uae调试桩的Debugger实现
type AmigaDebugger struct {
	options rsp.Options
	proxy   *rsp.Proxy

	// 事件产生时，触发该回调
	callback NotificationCallback

	// mutex 保护proxy、callback以及断点记录
	// pending 程序加载前添加的断点，加载完成后统一发送
	mutex   sync.Mutex
	pending []*Breakpoint
	sent    map[int]*rsp.Breakpoint
}

func NewAmigaDebugger(options rsp.Options) *AmigaDebugger {
	return &AmigaDebugger{
		options: options,
		sent:    map[int]*rsp.Breakpoint{},
	}
}

// Proxy 底层的RSP客户端
func (a *AmigaDebugger) Proxy() *rsp.Proxy {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.proxy
}

func (a *AmigaDebugger) Start(ctx context.Context, option *StartOption) error {
	a.mutex.Lock()
	if a.proxy != nil && a.proxy.State() != constants.Disconnected {
		a.mutex.Unlock()
		return fmt.Errorf("debug session already started")
	}
	a.callback = option.Callback
	if a.callback == nil {
		a.callback = func(interface{}) {}
	}
	a.requeueBreakpoints()
	proxy := rsp.NewProxy(a.options)
	proxy.SetSendPendingBreakpointsCallback(a.sendPendingBreakpoints)
	proxy.OnStop(a.processStopEvent)
	a.proxy = proxy
	a.mutex.Unlock()

	if err := proxy.Connect(ctx, option.Host, option.Port); err != nil {
		logrus.Errorf("connect fail, err = %v", err)
		a.notify(LaunchFailEvent)
		return err
	}
	a.notify(ConnectSuccessEvent)
	if err := proxy.Load(ctx, option.Program, option.StopOnEntry); err != nil {
		logrus.Errorf("load %s fail, err = %v", option.Program, err)
		a.notify(LaunchFailEvent)
		return err
	}
	a.notify(LaunchSuccessEvent)
	return nil
}

// requeueBreakpoints 重新启动时，上一次会话中已发送的断点重新进入待发送列表
// 调用方持有mutex
func (a *AmigaDebugger) requeueBreakpoints() {
	for id, bp := range a.sent {
		a.pending = append(a.pending, &Breakpoint{
			ID:            id,
			SegmentID:     bp.SegmentID,
			Offset:        bp.Offset,
			ExceptionMask: bp.ExceptionMask,
		})
	}
	a.sent = map[int]*rsp.Breakpoint{}
}

// sendPendingBreakpoints 程序加载后由proxy调用一次
func (a *AmigaDebugger) sendPendingBreakpoints(ctx context.Context) error {
	a.mutex.Lock()
	pending := a.pending
	a.pending = nil
	proxy := a.proxy
	a.mutex.Unlock()

	var errs []error
	for _, bp := range pending {
		if err := a.setBreakpoint(ctx, proxy, bp); err != nil {
			errs = append(errs, fmt.Errorf("breakpoint %d: %w", bp.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (a *AmigaDebugger) setBreakpoint(ctx context.Context, proxy *rsp.Proxy, bp *Breakpoint) error {
	target := bp.toRsp()
	err := proxy.SetBreakpoint(ctx, target)
	if err != nil {
		a.notify(newBreakpointEvent("changed", target, err.Error()))
		return err
	}
	a.mutex.Lock()
	a.sent[bp.ID] = target
	a.mutex.Unlock()
	a.notify(newBreakpointEvent("changed", target, ""))
	return nil
}

// AddBreakpoints 程序未加载时断点进入待发送列表
// 状态检查与入队在同一把锁内，加载后的一次性发送也需要这把锁，断点不会遗留在列表中
func (a *AmigaDebugger) AddBreakpoints(ctx context.Context, breakpoints []*Breakpoint) error {
	a.mutex.Lock()
	proxy := a.proxy
	if proxy == nil || proxy.State() != constants.Loaded {
		a.pending = append(a.pending, breakpoints...)
		a.mutex.Unlock()
		for _, bp := range breakpoints {
			a.notify(newBreakpointEvent("new", bp.toRsp(), ""))
		}
		return nil
	}
	a.mutex.Unlock()
	var errs []error
	for _, bp := range breakpoints {
		if err := a.setBreakpoint(ctx, proxy, bp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *AmigaDebugger) RemoveBreakpoints(ctx context.Context, breakpoints []*Breakpoint) error {
	var errs []error
	for _, bp := range breakpoints {
		a.mutex.Lock()
		a.pending = lo.Reject(a.pending, func(p *Breakpoint, _ int) bool { return p.ID == bp.ID })
		target, ok := a.sent[bp.ID]
		proxy := a.proxy
		a.mutex.Unlock()
		if !ok {
			continue
		}
		if err := proxy.RemoveBreakpoint(ctx, target); err != nil {
			errs = append(errs, err)
			continue
		}
		a.mutex.Lock()
		delete(a.sent, bp.ID)
		a.mutex.Unlock()
		a.notify(newBreakpointEvent("removed", target, ""))
	}
	return errors.Join(errs...)
}

// PendingBreakpoints 尚未发送的断点
func (a *AmigaDebugger) PendingBreakpoints() []*Breakpoint {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return append([]*Breakpoint(nil), a.pending...)
}

func (a *AmigaDebugger) notify(event interface{}) {
	a.mutex.Lock()
	callback := a.callback
	a.mutex.Unlock()
	if callback != nil {
		callback(event)
	}
}

// processStopEvent 将停止事件转为dap事件
func (a *AmigaDebugger) processStopEvent(event rsp.StopEvent) {
	if event.Exited {
		a.notify(&dap.ExitedEvent{
			Event: *newEvent("exited"),
			Body:  dap.ExitedEventBody{ExitCode: event.ExitCode},
		})
		return
	}
	a.notify(&dap.StoppedEvent{
		Event: *newEvent("stopped"),
		Body:  toStoppedEventBody(event.Status),
	})
}

// connected 当前会话的proxy
func (a *AmigaDebugger) connected() (*rsp.Proxy, error) {
	proxy := a.Proxy()
	if proxy == nil {
		return nil, e.ErrNotConnected
	}
	return proxy, nil
}

func (a *AmigaDebugger) thread(threadID int) (*rsp.Proxy, *rsp.Thread, error) {
	proxy, err := a.connected()
	if err != nil {
		return nil, nil, err
	}
	thread, ok := proxy.GetThreadFromSysThreadID(threadID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", e.ErrThreadNotFound, threadID)
	}
	return proxy, thread, nil
}

func (a *AmigaDebugger) Continue(ctx context.Context, threadID int) error {
	proxy, thread, err := a.thread(threadID)
	if err != nil {
		return err
	}
	if err = proxy.ContinueExecution(ctx, thread); err != nil {
		return err
	}
	a.notify(&dap.ContinuedEvent{
		Event: *newEvent("continued"),
		Body:  dap.ContinuedEventBody{ThreadId: threadID, AllThreadsContinued: true},
	})
	return nil
}

func (a *AmigaDebugger) Pause(ctx context.Context, threadID int) error {
	proxy, thread, err := a.thread(threadID)
	if err != nil {
		return err
	}
	return proxy.Pause(ctx, thread)
}

func (a *AmigaDebugger) StepIn(ctx context.Context, threadID int) error {
	proxy, thread, err := a.thread(threadID)
	if err != nil {
		return err
	}
	return proxy.StepIn(ctx, thread)
}

func (a *AmigaDebugger) StepToRange(ctx context.Context, threadID int, start, end uint32) error {
	proxy, thread, err := a.thread(threadID)
	if err != nil {
		return err
	}
	return proxy.StepToRange(ctx, thread, start, end)
}

func (a *AmigaDebugger) GetThreads(ctx context.Context) ([]dap.Thread, error) {
	proxy, err := a.connected()
	if err != nil {
		return nil, err
	}
	return lo.Map(proxy.GetThreads(), func(t *rsp.Thread, _ int) dap.Thread {
		return toThread(t)
	}), nil
}

func (a *AmigaDebugger) GetStackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	proxy, thread, err := a.thread(threadID)
	if err != nil {
		return nil, err
	}
	stack, err := proxy.Stack(ctx, thread)
	if err != nil {
		return nil, err
	}
	segments := proxy.GetSegments()
	return lo.Map(stack.Frames, func(frame rsp.StackPosition, _ int) dap.StackFrame {
		return toStackFrame(frame, segments)
	}), nil
}

func (a *AmigaDebugger) GetRegisters(ctx context.Context, threadID int) ([]dap.Variable, error) {
	proxy, thread, err := a.thread(threadID)
	if err != nil {
		return nil, err
	}
	registers, err := proxy.Registers(ctx, thread)
	if err != nil {
		return nil, err
	}
	return lo.Map(registers, func(r rsp.Register, _ int) dap.Variable {
		return toVariable(r)
	}), nil
}

func (a *AmigaDebugger) SetRegister(ctx context.Context, name string, value string) error {
	proxy, err := a.connected()
	if err != nil {
		return err
	}
	return proxy.SetRegister(ctx, name, value)
}

func (a *AmigaDebugger) ReadMemory(ctx context.Context, address uint32, count int) (*dap.ReadMemoryResponseBody, error) {
	proxy, err := a.connected()
	if err != nil {
		return nil, err
	}
	memory, err := proxy.GetMemory(ctx, address, count)
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(memory)
	if err != nil {
		return nil, fmt.Errorf("invalid memory reply %q: %w", memory, err)
	}
	return &dap.ReadMemoryResponseBody{
		Address:         fmt.Sprintf("0x%08x", address),
		Data:            base64.StdEncoding.EncodeToString(data),
		UnreadableBytes: count - len(data),
	}, nil
}

func (a *AmigaDebugger) WriteMemory(ctx context.Context, address uint32, data []byte) error {
	proxy, err := a.connected()
	if err != nil {
		return err
	}
	return proxy.SetMemory(ctx, address, hex.EncodeToString(data))
}

func (a *AmigaDebugger) GetHaltStatus(ctx context.Context) ([]dap.StoppedEventBody, error) {
	proxy, err := a.connected()
	if err != nil {
		return nil, err
	}
	statuses, err := proxy.GetHaltStatus(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(statuses, func(s rsp.HaltStatus, _ int) dap.StoppedEventBody {
		return toStoppedEventBody(s)
	}), nil
}

func (a *AmigaDebugger) Terminate(ctx context.Context) error {
	proxy := a.Proxy()
	if proxy == nil {
		return nil
	}
	err := proxy.Close()
	a.notify(&dap.TerminatedEvent{
		Event: *newEvent("terminated"),
	})
	return err
}
