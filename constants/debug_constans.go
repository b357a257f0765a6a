package constants

// SessionState 调试会话的连接状态
type SessionState string

const (
	// Idle 尚未连接
	Idle SessionState = "idle"
	// Connecting 正在建立socket连接
	Connecting SessionState = "connecting"
	// Negotiating socket已连接，正在进行qSupported/QStartNoAckMode握手
	Negotiating SessionState = "negotiating"
	// Ready 握手完成，可以发送命令
	Ready SessionState = "ready"
	// Loaded 程序已通过vRun加载，段信息可用
	Loaded SessionState = "loaded"
	// Disconnected 连接关闭或出错
	Disconnected SessionState = "disconnected"
)

// ThreadKind Amiga的系统线程类型
type ThreadKind string

const (
	CPUThread    ThreadKind = "cpu"
	CopperThread ThreadKind = "copper"
	OtherThread  ThreadKind = "other"
)

// Amiga system thread ids reported by the stub.
const (
	SysThreadIDCopper = 0x07
	SysThreadIDCPU    = 0x0f
)

// StopReason 程序停止的原因
type StopReason string

const (
	ReasonBreakpoint StopReason = "breakpoint"
	ReasonStep       StopReason = "step"
	ReasonPause      StopReason = "pause"
	ReasonException  StopReason = "exception"
	ReasonEntry      StopReason = "entry"
	ReasonExited     StopReason = "exited"
)

// ActionType vCont动作
type ActionType string

const (
	ContinueAction ActionType = "c"
	StopAction     ActionType = "t"
	StepAction     ActionType = "s"
	RangeAction    ActionType = "r"
)
