package debugger

import (
	"github.com/bissonex/vscode-amiga-assembly/rsp"
)

// StartOption 启动调试的参数
type StartOption struct {
	Host string
	Port int
	// Program 本地的可执行文件路径，加载时转换为dh0:下的路径
	Program     string
	StopOnEntry bool
	// Callback 事件回调
	Callback NotificationCallback
}

// Breakpoint 表示断点
// SegmentID为nil时Offset为绝对地址，ExceptionMask不为nil时为异常断点
type Breakpoint struct {
	ID            int
	SegmentID     *int
	Offset        int
	ExceptionMask *int
}

func NewBreakpoint(id, segmentID, offset int) *Breakpoint {
	return &Breakpoint{ID: id, SegmentID: &segmentID, Offset: offset}
}

func NewAddressBreakpoint(id, address int) *Breakpoint {
	return &Breakpoint{ID: id, Offset: address}
}

func NewExceptionBreakpoint(id, mask int) *Breakpoint {
	return &Breakpoint{ID: id, ExceptionMask: &mask}
}

func (b *Breakpoint) toRsp() *rsp.Breakpoint {
	return &rsp.Breakpoint{
		ID:            b.ID,
		SegmentID:     b.SegmentID,
		Offset:        b.Offset,
		ExceptionMask: b.ExceptionMask,
	}
}

// 定义的一些Event
var (
	ConnectSuccessEvent = NewLaunchEvent(true, "已连接调试桩")
	LaunchSuccessEvent  = NewLaunchEvent(true, "目标程序加载成功")
	LaunchFailEvent     = NewLaunchEvent(false, "目标程序加载失败")
)

// LaunchEvent
// 调试资源准备成功
type LaunchEvent struct {
	Success bool
	Message string
}

func NewLaunchEvent(success bool, message string) *LaunchEvent {
	return &LaunchEvent{
		Success: success,
		Message: message,
	}
}
