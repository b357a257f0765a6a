package rsp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bissonex/vscode-amiga-assembly/constants"
	e "github.com/bissonex/vscode-amiga-assembly/error"
	"github.com/bissonex/vscode-amiga-assembly/utils"
	"github.com/bissonex/vscode-amiga-assembly/utils/gosync"
	"github.com/sirupsen/logrus"
)

const (
	// SupportString 连接时发送的能力查询
	SupportString = "qSupported:QStartNoAckMode+;multiprocess+;vContSupported+;QNonStop+"
	// DefaultTimeout 单个请求等待回复的默认时间
	DefaultTimeout = 10 * time.Second

	replyOK            = "OK"
	notificationPrefix = "Stop:"
)

// Options GdbProxy的配置
type Options struct {
	// Timeout 为0时使用DefaultTimeout，小于0时不超时
	Timeout time.Duration
	Clock   clock.Clock
	Dialer  Dialer
	Logger  *logrus.Entry
}

// Capabilities qSupported协商出的能力
type Capabilities struct {
	Multiprocess bool
	VCont        bool
	NoAckMode    bool
	NonStop      bool
}

func parseCapabilities(reply string) Capabilities {
	set := utils.Split2set(reply, ";")
	return Capabilities{
		Multiprocess: set.Contains("multiprocess+"),
		VCont:        set.Contains("vContSupported+"),
		NoAckMode:    set.Contains("QStartNoAckMode+"),
		NonStop:      set.Contains("QNonStop+"),
	}
}

// SendPendingBreakpointsCallback 加载完成后发送所有待设置的断点
type SendPendingBreakpointsCallback func(ctx context.Context) error

// pendingRequest 正在等待回复的请求
type pendingRequest struct {
	command    string
	acceptStop bool
	done       chan struct{}
	closeOnce  sync.Once
	reply      string
	err        error
	// abandoned 调用方已因超时或取消返回，槽位保留到调试桩的回复到达，该回复被丢弃
	abandoned bool
}

func (r *pendingRequest) complete(reply string, err error) {
	r.closeOnce.Do(func() {
		r.reply = reply
		r.err = err
		close(r.done)
	})
}

// Proxy fs-uae调试桩的RSP客户端
type Proxy struct {
	opts      Options
	log       *logrus.Entry
	sessionID string

	status *utils.StatusManager

	// cmdLock 同一时间只执行一个公开操作
	cmdLock sync.Mutex

	// slotLock 保护transport、in-flight请求以及停止队列
	slotLock  sync.Mutex
	transport *Transport
	inFlight  *pendingRequest
	stops     *stopQueue
	caps      Capabilities

	segments *SegmentTable
	threads  *ThreadRegistry

	regLock   sync.RWMutex
	registers map[int]uint32

	listenerLock  sync.RWMutex
	stopListeners []func(StopEvent)

	flushLock     sync.Mutex
	flushCallback SendPendingBreakpointsCallback
	flushArmed    atomic.Bool
}

// NewProxy 创建一个未连接的proxy
func NewProxy(opts Options) *Proxy {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	sessionID := utils.GetUUID()
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Proxy{
		opts:      opts,
		log:       log.WithField("session", sessionID),
		sessionID: sessionID,
		status:    utils.NewStatusManager(),
		segments:  NewSegmentTable(),
		threads:   NewThreadRegistry(),
		registers: map[int]uint32{},
	}
}

func (p *Proxy) SessionID() string {
	return p.sessionID
}

func (p *Proxy) State() constants.SessionState {
	return p.status.Get()
}

func (p *Proxy) Capabilities() Capabilities {
	p.slotLock.Lock()
	defer p.slotLock.Unlock()
	return p.caps
}

// Connect 建立连接并完成qSupported/QStartNoAckMode握手
func (p *Proxy) Connect(ctx context.Context, host string, port int) error {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if !p.status.Transition(constants.Connecting, constants.Idle, constants.Disconnected) {
		return fmt.Errorf("cannot connect, session is %s", p.status.Get())
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))
	log := p.log.WithField("addr", address)
	conn, err := Dial(ctx, p.opts.Dialer, address)
	if err != nil {
		p.status.Set(constants.Disconnected)
		log.Errorf("[Connect] dial fail, err = %v", err)
		return err
	}

	t := NewTransport(conn, p, log)
	stops := newStopQueue()
	p.slotLock.Lock()
	p.transport = t
	p.stops = stops
	p.caps = Capabilities{}
	p.slotLock.Unlock()
	p.status.Set(constants.Negotiating)
	gosync.Go(context.Background(), func(ctx context.Context) {
		p.dispatchStops(stops)
	})
	t.Start(context.Background())

	if err = p.handshake(ctx, t); err != nil {
		log.Errorf("[Connect] handshake fail, err = %v", err)
		_ = t.Close()
		p.status.Set(constants.Disconnected)
		return err
	}
	p.status.Set(constants.Ready)
	log.Infof("[Connect] connected, capabilities = %+v", p.Capabilities())
	return nil
}

func (p *Proxy) handshake(ctx context.Context, t *Transport) error {
	reply, err := p.request(ctx, SupportString, false)
	if err != nil {
		return err
	}
	caps := parseCapabilities(reply)
	if !caps.VCont {
		return e.ErrBinaries
	}
	reply, err = p.request(ctx, "QStartNoAckMode", false)
	if err != nil {
		return err
	}
	if reply != replyOK {
		return &e.UnexpectedReplyError{Command: "QStartNoAckMode", Reply: reply}
	}
	t.SetNoAckMode(true)
	caps.NoAckMode = true
	p.slotLock.Lock()
	p.caps = caps
	p.slotLock.Unlock()
	return nil
}

// Close 关闭连接，等待中的请求以及之后的请求返回ErrDisconnected
func (p *Proxy) Close() error {
	p.slotLock.Lock()
	t := p.transport
	p.slotLock.Unlock()
	if t == nil {
		return nil
	}
	err := t.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Inject 将原始字节交给transport处理，用于构造异步通知
func (p *Proxy) Inject(raw []byte) error {
	p.slotLock.Lock()
	t := p.transport
	p.slotLock.Unlock()
	if t == nil {
		return e.ErrNotConnected
	}
	t.Feed(raw)
	return nil
}

// OnStop 注册停止事件的监听
func (p *Proxy) OnStop(listener func(StopEvent)) {
	p.listenerLock.Lock()
	defer p.listenerLock.Unlock()
	p.stopListeners = append(p.stopListeners, listener)
}

// SetSendPendingBreakpointsCallback 设置加载后发送断点的回调
func (p *Proxy) SetSendPendingBreakpointsCallback(callback SendPendingBreakpointsCallback) {
	p.flushLock.Lock()
	defer p.flushLock.Unlock()
	p.flushCallback = callback
}

// checkConnected 握手完成后才允许发送命令
func (p *Proxy) checkConnected() error {
	switch p.status.Get() {
	case constants.Ready, constants.Loaded:
		return nil
	case constants.Disconnected:
		return e.ErrDisconnected
	default:
		return e.ErrNotConnected
	}
}

// request 发送一个命令并等待回复
// 同一时间只允许一个请求等待回复，E<hex>回复转为GdbError
func (p *Proxy) request(ctx context.Context, command string, acceptStop bool) (string, error) {
	req := &pendingRequest{command: command, acceptStop: acceptStop, done: make(chan struct{})}
	p.slotLock.Lock()
	t := p.transport
	switch {
	case t == nil:
		p.slotLock.Unlock()
		return "", e.ErrNotConnected
	case p.inFlight != nil:
		command := p.inFlight.command
		p.slotLock.Unlock()
		return "", fmt.Errorf("%w: %s", e.ErrRequestInFlight, command)
	}
	p.inFlight = req
	p.slotLock.Unlock()

	if err := t.Send(command); err != nil {
		p.finish(req, "", err)
		return "", err
	}

	timeout := utils.NewTimeoutManager(p.opts.Clock)
	timeout.Start(p.opts.Timeout, func() {
		p.log.Warnf("[Proxy] no reply for %q", command)
		p.abandon(req, e.ErrStubUnresponsive)
	})
	defer timeout.Cancel()

	select {
	case <-req.done:
	case <-ctx.Done():
		p.abandon(req, ctx.Err())
	}
	if req.err != nil {
		return "", req.err
	}
	if err := checkReply(req.reply); err != nil {
		return "", err
	}
	return req.reply, nil
}

// requestOK 回复必须为OK
func (p *Proxy) requestOK(ctx context.Context, command string) error {
	reply, err := p.request(ctx, command, false)
	if err != nil {
		return err
	}
	if reply != replyOK {
		return &e.UnexpectedReplyError{Command: command, Reply: reply}
	}
	return nil
}

// finish 释放in-flight槽位并完成请求
func (p *Proxy) finish(req *pendingRequest, reply string, err error) {
	p.slotLock.Lock()
	if p.inFlight == req {
		p.inFlight = nil
	}
	p.slotLock.Unlock()
	req.complete(reply, err)
}

// abandon 请求已经发出，调试桩仍欠一个回复
// 槽位不释放，之后的请求返回ErrRequestInFlight，直到迟到的回复到达
func (p *Proxy) abandon(req *pendingRequest, err error) {
	p.slotLock.Lock()
	if p.inFlight == req {
		req.abandoned = true
	}
	p.slotLock.Unlock()
	req.complete("", err)
}

// OnPacket 由transport的读协程调用
func (p *Proxy) OnPacket(frame Frame) {
	if frame.Kind == FrameNotification {
		p.enqueueStop(strings.TrimPrefix(frame.Payload, notificationPrefix))
		return
	}
	p.slotLock.Lock()
	req := p.inFlight
	if req == nil || (!req.acceptStop && IsStopReply(frame.Payload)) {
		p.slotLock.Unlock()
		p.enqueueStop(frame.Payload)
		return
	}
	p.inFlight = nil
	abandoned := req.abandoned
	p.slotLock.Unlock()
	if abandoned {
		// 被放弃的vCont之类的请求，回复仍可能是停止事件
		if IsStopReply(frame.Payload) {
			p.enqueueStop(frame.Payload)
			return
		}
		p.log.Debugf("[Proxy] discard late reply %q for %q", frame.Payload, req.command)
		return
	}
	req.complete(frame.Payload, nil)
}

// OnClose 由transport在连接关闭时调用一次
func (p *Proxy) OnClose(err error) {
	if !errors.Is(err, e.ErrDisconnected) {
		err = fmt.Errorf("%w: %v", e.ErrDisconnected, err)
	}
	p.slotLock.Lock()
	req := p.inFlight
	p.inFlight = nil
	stops := p.stops
	p.slotLock.Unlock()
	if req != nil {
		req.complete("", err)
	}
	if stops != nil {
		stops.Close()
	}
	p.status.Set(constants.Disconnected)
	p.flushArmed.Store(false)
	p.log.Infof("[Proxy] connection closed: %v", err)
}

func (p *Proxy) enqueueStop(payload string) {
	p.slotLock.Lock()
	stops := p.stops
	p.slotLock.Unlock()
	if stops == nil || !stops.Push(stopItem{payload: payload}) {
		p.log.Warnf("[Proxy] dropped packet %q", payload)
	}
}

// enqueueEvent 已解析的停止事件同样经过分发协程，与其他停止事件保持顺序
// 返回的channel在监听者处理完成后关闭
func (p *Proxy) enqueueEvent(event *StopEvent) (<-chan struct{}, error) {
	p.slotLock.Lock()
	stops := p.stops
	p.slotLock.Unlock()
	done := make(chan struct{})
	if stops == nil || !stops.Push(stopItem{event: event, done: done}) {
		return nil, e.ErrDisconnected
	}
	return done, nil
}

// dispatchStops 分发协程，队列关闭后退出
func (p *Proxy) dispatchStops(stops *stopQueue) {
	for {
		item, ok := stops.Pop()
		if !ok {
			return
		}
		if item.event != nil {
			p.notifyStop(*item.event)
			close(item.done)
			continue
		}
		p.handleStop(item.payload)
	}
}

func (p *Proxy) handleStop(payload string) {
	event, err := ParseStopReply(payload)
	if err != nil {
		p.log.Warnf("[Proxy] unexpected packet %q", payload)
		return
	}
	p.applyStop(event)
	if p.flushArmed.CompareAndSwap(true, false) {
		if err = p.sendPendingBreakpoints(context.Background()); err != nil {
			p.log.Errorf("[Proxy] send pending breakpoints fail, err = %v", err)
		}
	}
	p.notifyStop(*event)
}

// applyStop 更新当前线程以及寄存器缓存
func (p *Proxy) applyStop(event *StopEvent) {
	if event.Exited {
		p.status.Transition(constants.Ready, constants.Loaded)
		return
	}
	if event.Status.Thread != nil {
		event.Status.Thread = p.threads.SetCurrent(event.Status.Thread)
	}
	if len(event.Status.Registers) == 0 {
		return
	}
	if event.Status.Thread != nil && event.Status.Thread.Kind != constants.CPUThread {
		return
	}
	p.regLock.Lock()
	defer p.regLock.Unlock()
	for index, value := range event.Status.Registers {
		p.registers[index] = value
	}
}

func (p *Proxy) notifyStop(event StopEvent) {
	p.listenerLock.RLock()
	listeners := append([]func(StopEvent){}, p.stopListeners...)
	p.listenerLock.RUnlock()
	for _, listener := range listeners {
		listener(event)
	}
}

func (p *Proxy) sendPendingBreakpoints(ctx context.Context) error {
	p.flushLock.Lock()
	callback := p.flushCallback
	p.flushLock.Unlock()
	if callback == nil {
		return nil
	}
	p.log.Debugf("[Proxy] sending pending breakpoints")
	return callback(ctx)
}
