package rsp

import (
	"fmt"

	e "github.com/bissonex/vscode-amiga-assembly/error"
)

// Breakpoint 断点
// SegmentID为nil时offset为绝对地址；ExceptionMask不为nil时为异常断点
type Breakpoint struct {
	ID            int
	SegmentID     *int
	Offset        int
	ExceptionMask *int
	Verified      bool
}

// NewSegmentBreakpoint 段内偏移断点
func NewSegmentBreakpoint(id, segmentID, offset int) *Breakpoint {
	return &Breakpoint{ID: id, SegmentID: &segmentID, Offset: offset}
}

// NewAddressBreakpoint 绝对地址断点
func NewAddressBreakpoint(id, offset int) *Breakpoint {
	return &Breakpoint{ID: id, Offset: offset}
}

// NewExceptionBreakpoint 异常断点
func NewExceptionBreakpoint(id, mask int) *Breakpoint {
	return &Breakpoint{ID: id, ExceptionMask: &mask}
}

func (b *Breakpoint) IsException() bool {
	return b.ExceptionMask != nil
}

// validateBreakpoint 发送前检查偏移与段id
func validateBreakpoint(bp *Breakpoint, segmentCount int) error {
	if bp == nil {
		return fmt.Errorf("%w: nil breakpoint", e.ErrInvalidBreakpoint)
	}
	if bp.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", e.ErrInvalidBreakpoint, bp.Offset)
	}
	if bp.ExceptionMask != nil && *bp.ExceptionMask < 0 {
		return fmt.Errorf("%w: negative exception mask %d", e.ErrInvalidBreakpoint, *bp.ExceptionMask)
	}
	if bp.SegmentID != nil && (*bp.SegmentID < 0 || *bp.SegmentID >= segmentCount) {
		return fmt.Errorf("%w: unknown segment %d", e.ErrInvalidBreakpoint, *bp.SegmentID)
	}
	return nil
}

// setBreakpointCommand Z0/Z1命令
func setBreakpointCommand(bp *Breakpoint) string {
	switch {
	case bp.ExceptionMask != nil:
		return fmt.Sprintf("Z1,%x,0;X1,%x", bp.Offset, *bp.ExceptionMask)
	case bp.SegmentID != nil:
		return fmt.Sprintf("Z0,%x,%x", bp.Offset, *bp.SegmentID)
	default:
		return fmt.Sprintf("Z0,%x", bp.Offset)
	}
}

// removeBreakpointCommand z0/z1命令
func removeBreakpointCommand(bp *Breakpoint) string {
	switch {
	case bp.ExceptionMask != nil:
		return fmt.Sprintf("z1,%x", *bp.ExceptionMask)
	case bp.SegmentID != nil:
		return fmt.Sprintf("z0,%x,%x", bp.Offset, *bp.SegmentID)
	default:
		return fmt.Sprintf("z0,%x", bp.Offset)
	}
}
