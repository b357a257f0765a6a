package debugger

import (
	"fmt"
	"strings"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	"github.com/bissonex/vscode-amiga-assembly/rsp"
	"github.com/google/go-dap"
	"github.com/samber/lo"
)

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newBreakpointEvent(reason string, bp *rsp.Breakpoint, message string) *dap.BreakpointEvent {
	return &dap.BreakpointEvent{
		Event: *newEvent("breakpoint"),
		Body: dap.BreakpointEventBody{
			Reason: reason,
			Breakpoint: dap.Breakpoint{
				Id:       bp.ID,
				Verified: bp.Verified,
				Message:  message,
			},
		},
	}
}

func toThread(t *rsp.Thread) dap.Thread {
	return dap.Thread{Id: t.ThreadID, Name: t.String()}
}

// toStoppedEventBody dap的停止原因只有固定几种，异常停止时在描述中带上信号值
func toStoppedEventBody(status rsp.HaltStatus) dap.StoppedEventBody {
	body := dap.StoppedEventBody{
		Reason:            string(status.Reason),
		AllThreadsStopped: true,
	}
	if status.Thread != nil {
		body.ThreadId = status.Thread.ThreadID
	}
	if status.Reason == constants.ReasonException {
		body.Description = fmt.Sprintf("signal %d", status.Code)
		body.Text = status.Details
	}
	return body
}

// toStackFrame 段内的帧以段名加偏移命名，其他帧以绝对地址命名
func toStackFrame(frame rsp.StackPosition, segments []rsp.Segment) dap.StackFrame {
	name := fmt.Sprintf("$%08x", frame.PC)
	var source *dap.Source
	if segment, ok := lo.Find(segments, func(s rsp.Segment) bool { return s.ID == frame.SegmentID }); ok {
		name = fmt.Sprintf("%s+$%x", segment.Name, frame.Offset)
		source = &dap.Source{Name: segment.Name}
	}
	if frame.Index == rsp.CopperFrameIndex {
		name = "copper " + name
	}
	return dap.StackFrame{
		Id:                          frame.Index,
		Name:                        name,
		Source:                      source,
		InstructionPointerReference: fmt.Sprintf("0x%08x", frame.PC),
	}
}

// toVariable 寄存器以十六进制显示，sr的标志位以0/1显示
func toVariable(r rsp.Register) dap.Variable {
	value := fmt.Sprintf("0x%08x", r.Value)
	if len(r.Name) <= 2 && strings.ToUpper(r.Name) == r.Name {
		value = fmt.Sprintf("%d", r.Value)
	}
	return dap.Variable{
		Name:  r.Name,
		Value: value,
		Type:  "register",
	}
}
