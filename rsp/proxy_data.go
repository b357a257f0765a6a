package rsp

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	e "github.com/bissonex/vscode-amiga-assembly/error"
)

const (
	// CurrentFrameIndex 当前帧的索引
	CurrentFrameIndex = -1
	// CopperFrameIndex Copper没有调用栈，只有一个表示当前取指地址的帧
	CopperFrameIndex   = -1000
	CopperSegmentIndex = -10
)

// StackPosition 栈中的一帧
type StackPosition struct {
	Index           int
	SegmentID       int
	Offset          int
	PC              uint32
	StackFrameIndex int
}

// StackFrame 线程的调用栈
type StackFrame struct {
	Frames []StackPosition
	Count  int
}

// SetBreakpoint 设置断点，成功后标记为已验证
func (p *Proxy) SetBreakpoint(ctx context.Context, bp *Breakpoint) error {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return err
	}
	if err := validateBreakpoint(bp, p.segments.Len()); err != nil {
		return err
	}
	if err := p.requestOK(ctx, setBreakpointCommand(bp)); err != nil {
		return err
	}
	bp.Verified = true
	return nil
}

// RemoveBreakpoint 删除已设置的断点
func (p *Proxy) RemoveBreakpoint(ctx context.Context, bp *Breakpoint) error {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return err
	}
	if err := validateBreakpoint(bp, p.segments.Len()); err != nil {
		return err
	}
	if err := p.requestOK(ctx, removeBreakpointCommand(bp)); err != nil {
		return err
	}
	bp.Verified = false
	return nil
}

// Registers 读取寄存器，thread为nil时读取当前CPU线程
// Copper线程只有copper一个寄存器
func (p *Proxy) Registers(ctx context.Context, thread *Thread) ([]Register, error) {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return nil, err
	}
	if thread != nil {
		resolved, ok := p.threads.Resolve(thread)
		if !ok {
			return nil, fmt.Errorf("%w: %v", e.ErrThreadNotFound, thread)
		}
		if resolved.Kind == constants.CopperThread {
			value, err := p.readRegister(ctx, RegisterCopperAddrIndex)
			if err != nil {
				return nil, err
			}
			return []Register{{Name: copperRegisterName, Value: int64(value)}}, nil
		}
	}
	return p.fetchRegisters(ctx)
}

func (p *Proxy) fetchRegisters(ctx context.Context) ([]Register, error) {
	reply, err := p.request(ctx, "g", false)
	if err != nil {
		return nil, err
	}
	registers, err := DecodeRegisters(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", &e.UnexpectedReplyError{Command: "g", Reply: reply}, err)
	}
	p.regLock.Lock()
	defer p.regLock.Unlock()
	for _, r := range registers[:len(registerNames)] {
		if idx, ok := GetRegisterIndex(r.Name); ok {
			p.registers[idx] = uint32(r.Value)
		}
	}
	return registers, nil
}

// CachedRegisters 最近一次读取或停止事件带回的CPU寄存器值
func (p *Proxy) CachedRegisters() map[int]uint32 {
	p.regLock.RLock()
	defer p.regLock.RUnlock()
	registers := make(map[int]uint32, len(p.registers))
	for k, v := range p.registers {
		registers[k] = v
	}
	return registers
}

func (p *Proxy) clearRegisters() {
	p.regLock.Lock()
	defer p.regLock.Unlock()
	p.registers = map[int]uint32{}
}

// GetRegister 读取单个寄存器
func (p *Proxy) GetRegister(ctx context.Context, index int) (uint32, error) {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return 0, err
	}
	return p.readRegister(ctx, index)
}

func (p *Proxy) readRegister(ctx context.Context, index int) (uint32, error) {
	command := fmt.Sprintf("p%x", index)
	reply, err := p.request(ctx, command, false)
	if err != nil {
		return 0, err
	}
	value, err := ParseRegisterValue(reply)
	if err != nil {
		return 0, &e.UnexpectedReplyError{Command: command, Reply: reply}
	}
	return value, nil
}

// SetRegister 按名称设置寄存器，value为十六进制
func (p *Proxy) SetRegister(ctx context.Context, name string, value string) error {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return err
	}
	index, ok := GetRegisterIndex(name)
	if !ok {
		return fmt.Errorf("%w: %s", e.ErrUnknownRegister, name)
	}
	return p.requestOK(ctx, fmt.Sprintf("P%x=%s", index, value))
}

// GetMemory 读取内存，返回调试桩回复的十六进制字符串
func (p *Proxy) GetMemory(ctx context.Context, address uint32, length int) (string, error) {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return "", err
	}
	return p.request(ctx, fmt.Sprintf("m%x,%x", address, length), false)
}

// SetMemory 写入内存，data为十六进制字符串
func (p *Proxy) SetMemory(ctx context.Context, address uint32, data string) error {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return err
	}
	// 长度必须是整字节
	if _, err := hex.DecodeString(data); err != nil {
		return fmt.Errorf("%w: %v", e.ErrInvalidMemory, err)
	}
	return p.requestOK(ctx, fmt.Sprintf("M%x,%x:%s", address, len(data)/2, data))
}

// Stack 获取线程的调用栈
func (p *Proxy) Stack(ctx context.Context, thread *Thread) (*StackFrame, error) {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return nil, err
	}
	resolved, ok := p.threads.Resolve(thread)
	if !ok {
		return nil, fmt.Errorf("%w: %v", e.ErrThreadNotFound, thread)
	}
	if resolved.Kind == constants.CopperThread {
		return p.copperStack(ctx)
	}
	return p.cpuStack(ctx)
}

func (p *Proxy) copperStack(ctx context.Context) (*StackFrame, error) {
	pc, err := p.readRegister(ctx, RegisterCopperAddrIndex)
	if err != nil {
		return nil, err
	}
	return &StackFrame{
		Frames: []StackPosition{{
			Index:           CopperFrameIndex,
			SegmentID:       CopperSegmentIndex,
			Offset:          0,
			PC:              pc,
			StackFrameIndex: 0,
		}},
		Count: 1,
	}, nil
}

// cpuStack QTFrame:-1返回当前帧数N，然后依次选择N..1帧读取pc，最后恢复为当前帧
func (p *Proxy) cpuStack(ctx context.Context) (*StackFrame, error) {
	depth, err := p.selectFrame(ctx, CurrentFrameIndex)
	if err != nil {
		return nil, err
	}
	pc, err := p.readRegister(ctx, RegisterPCIndex)
	if err != nil {
		return nil, err
	}
	frames := []StackPosition{p.stackPosition(CurrentFrameIndex, pc, depth)}
	for i := depth; i > 0; i-- {
		frameIndex, err := p.selectFrame(ctx, i)
		if err != nil {
			return nil, err
		}
		pc, err = p.readRegister(ctx, RegisterPCIndex)
		if err != nil {
			return nil, err
		}
		frames = append(frames, p.stackPosition(i, pc, frameIndex))
	}
	if depth > 0 {
		if _, err = p.selectFrame(ctx, CurrentFrameIndex); err != nil {
			return nil, err
		}
	}
	return &StackFrame{Frames: frames, Count: len(frames)}, nil
}

func (p *Proxy) stackPosition(index int, pc uint32, frameIndex int) StackPosition {
	segmentID, offset := p.segments.ToRelativeOffset(pc)
	return StackPosition{
		Index:           index,
		SegmentID:       segmentID,
		Offset:          offset,
		PC:              pc,
		StackFrameIndex: frameIndex,
	}
}

// selectFrame QTFrame:<index>，回复为帧编号，可能带有F前缀
func (p *Proxy) selectFrame(ctx context.Context, index int) (int, error) {
	command := fmt.Sprintf("QTFrame:%x", index)
	if index < 0 {
		command = fmt.Sprintf("QTFrame:%d", index)
	}
	reply, err := p.request(ctx, command, false)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(reply, "F"), 16, 32)
	if err != nil {
		return 0, &e.UnexpectedReplyError{Command: command, Reply: reply}
	}
	return int(v), nil
}

// GetSegments 当前加载程序的段
func (p *Proxy) GetSegments() []Segment {
	return p.segments.All()
}

// GetThreads 按(processId, threadId)排序的线程
func (p *Proxy) GetThreads() []*Thread {
	return p.threads.All()
}

// GetCurrentCpuThread 当前CPU线程
func (p *Proxy) GetCurrentCpuThread() (*Thread, bool) {
	return p.threads.Current(constants.CPUThread)
}

// GetThreadFromSysThreadID 按Amiga系统线程id查找线程，例如0x07为Copper
func (p *Proxy) GetThreadFromSysThreadID(id int) (*Thread, bool) {
	if t, ok := p.threads.Current(kindOf(id)); ok && t.ThreadID == id {
		return t, true
	}
	for _, t := range p.threads.All() {
		if t.ThreadID == id {
			return t, true
		}
	}
	return nil, false
}

// ToRelativeOffset 将绝对地址转换为段id和段内偏移
func (p *Proxy) ToRelativeOffset(address uint32) (int, int) {
	return p.segments.ToRelativeOffset(address)
}
