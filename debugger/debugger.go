package debugger

import (
	"context"

	"github.com/google/go-dap"
)

type NotificationCallback func(interface{})

// Debugger
// 对一个Amiga程序的一次调试过程
// 事件通过StartOption中的Callback异步通知
// 需要保证并发安全
type Debugger interface {
	// Start
	// 连接调试桩并加载程序
	Start(ctx context.Context, option *StartOption) error
	// Continue 继续执行
	Continue(ctx context.Context, threadID int) error
	// Pause 暂停
	Pause(ctx context.Context, threadID int) error
	// StepIn 执行一条指令
	StepIn(ctx context.Context, threadID int) error
	// StepToRange 执行直到pc离开[start, end)
	StepToRange(ctx context.Context, threadID int, start, end uint32) error
	// AddBreakpoints 添加断点
	// 程序加载之前添加的断点会在加载后统一发送
	AddBreakpoints(ctx context.Context, breakpoints []*Breakpoint) error
	// RemoveBreakpoints 移除断点
	RemoveBreakpoints(ctx context.Context, breakpoints []*Breakpoint) error
	// GetThreads 获取线程列表
	GetThreads(ctx context.Context) ([]dap.Thread, error)
	// GetStackTrace 获取栈帧
	GetStackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error)
	// GetRegisters 获取寄存器
	GetRegisters(ctx context.Context, threadID int) ([]dap.Variable, error)
	// SetRegister 设置寄存器，value为十六进制
	SetRegister(ctx context.Context, name string, value string) error
	// ReadMemory 读取内存
	ReadMemory(ctx context.Context, address uint32, count int) (*dap.ReadMemoryResponseBody, error)
	// WriteMemory 写入内存
	WriteMemory(ctx context.Context, address uint32, data []byte) error
	// GetHaltStatus 查询所有线程的停止状态
	GetHaltStatus(ctx context.Context) ([]dap.StoppedEventBody, error)
	// Terminate 终止调试
	// 调用完该命令以后可以重新Start
	Terminate(ctx context.Context) error
}
