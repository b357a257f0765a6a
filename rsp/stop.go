package rsp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	e "github.com/bissonex/vscode-amiga-assembly/error"
)

const (
	signalInt  = 2
	signalTrap = 5
)

var errorReplyPattern = regexp.MustCompile(`^E[0-9A-Fa-f]{1,2}$`)

// HaltStatus 一个线程的停止状态
type HaltStatus struct {
	Code   int
	Thread *Thread
	// Details 停止回复中除thread和寄存器外的其他键值，例如swbreak
	Details   string
	Registers map[int]uint32
	Reason    constants.StopReason
}

// StopEvent 异步到达的停止事件
type StopEvent struct {
	Status HaltStatus
	// Exited W/X回复，程序已结束
	Exited   bool
	ExitCode int
}

func isErrorReply(reply string) bool {
	return errorReplyPattern.MatchString(reply)
}

// checkReply 将E<hex>回复转为GdbError
func checkReply(reply string) error {
	if isErrorReply(reply) {
		return e.NewGdbError(reply)
	}
	return nil
}

// IsStopReply S/T/W/X后跟一到两位十六进制信号值，T后必须是两位
func IsStopReply(reply string) bool {
	_, _, ok := splitStopCode(reply)
	return ok
}

func splitStopCode(reply string) (int, string, bool) {
	if len(reply) < 2 || !strings.ContainsRune("STWX", rune(reply[0])) {
		return 0, "", false
	}
	n := 1
	for n < len(reply) && n < 3 && isHexDigit(reply[n]) {
		n++
	}
	rest := reply[n:]
	switch {
	case n == 1:
		return 0, "", false
	case reply[0] == 'T':
		if n != 3 {
			return 0, "", false
		}
	case rest != "" && rest[0] != ';':
		// 例如qOffsets的回复TextSeg=...
		return 0, "", false
	}
	code, _ := strconv.ParseUint(reply[1:n], 16, 8)
	return int(code), rest, true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// ParseStopReply 解析停止回复
// S05;0
// T05;swbreak:;thread:p01.0f;0e:00c00b00;11:00c034c2
// W00;process:1
func ParseStopReply(reply string) (*StopEvent, error) {
	code, rest, ok := splitStopCode(reply)
	if !ok {
		return nil, fmt.Errorf("invalid stop reply %q", reply)
	}
	event := &StopEvent{Status: HaltStatus{Code: code, Registers: map[int]uint32{}}}
	switch reply[0] {
	case 'W', 'X':
		event.Exited = true
		event.ExitCode = code
		event.Status.Reason = constants.ReasonExited
		event.Status.Details = strings.TrimPrefix(rest, ";")
		return event, nil
	case 'S':
		event.Status.Details = strings.TrimPrefix(rest, ";")
		event.Status.Reason = reasonOf(code, false)
		return event, nil
	}

	var details []string
	breakpoint := false
	for _, item := range strings.Split(rest, ";") {
		if item == "" {
			continue
		}
		key, value, _ := strings.Cut(item, ":")
		switch key {
		case "thread":
			thread, err := ParseThreadID(value)
			if err != nil {
				return nil, err
			}
			event.Status.Thread = thread
			continue
		case "swbreak", "hwbreak", "watch", "rwatch", "awatch":
			breakpoint = true
		}
		if index, err := strconv.ParseUint(key, 16, 16); err == nil {
			v, err := strconv.ParseUint(value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid register %s in stop reply: %w", key, err)
			}
			event.Status.Registers[int(index)] = uint32(v)
			continue
		}
		details = append(details, item)
	}
	event.Status.Details = strings.Join(details, ";")
	event.Status.Reason = reasonOf(code, breakpoint)
	return event, nil
}

func reasonOf(code int, breakpoint bool) constants.StopReason {
	switch {
	case breakpoint:
		return constants.ReasonBreakpoint
	case code == signalTrap:
		return constants.ReasonStep
	case code == signalInt:
		return constants.ReasonPause
	default:
		return constants.ReasonException
	}
}
