package error

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBinaries          = errors.New("the debug stub is too old, please update the emulator binaries")
	ErrUnexpectedReturn  = errors.New("unexpected return message for program launch")
	ErrInvalidBreakpoint = errors.New("invalid breakpoint")
	ErrInvalidMemory     = errors.New("invalid memory data")
	ErrNotConnected      = errors.New("not connected to the debug stub")
	ErrDisconnected      = errors.New("disconnected from the debug stub")
	ErrThreadNotFound    = errors.New("thread not found")
	ErrStubUnresponsive  = errors.New("debug stub is not responding")
	ErrRequestInFlight   = errors.New("a request is already waiting for a reply")
	ErrUnknownRegister   = errors.New("unknown register")
	ErrTransport         = errors.New("transport error")
)

// gdbErrorMessages 调试桩返回的错误码
var gdbErrorMessages = map[string]string{
	"E01": "General error during processing",
	"E02": "Error during the packet parse",
	"E03": "Unsupported / unknown command",
	"E04": "Unknown register",
	"E05": "Invalid Frame Id",
	"E06": "Invalid memory location",
	"E07": "Address not safe for a set memory command",
	"E08": "Unknown breakpoint",
	"E09": "The maximum of breakpoints have been reached",
	"E0F": "Error during the packet parse for command send memory",
	"E10": "Unknown register",
	"E11": "Invalid Frame Id",
	"E12": "Invalid memory location",
	"E20": "Error during the packet parse for command set memory",
	"E21": "Missing end packet for a set memory message",
	"E22": "Address not safe for a set memory command",
	"E25": "Error during the packet parse for command set register",
	"E26": "Error during set register - unsupported register name",
	"E30": "Error during the packet parse for command get register",
	"E31": "Error during the vCont packet parse",
	"E40": "Unable to load segments",
	"E41": "Thread command parse error",
}

// GdbError 调试桩返回的E<hex>错误
type GdbError struct {
	ErrorType string
	Message   string
}

// NewGdbError 解析错误码，未知错误码使用通用信息
func NewGdbError(code string) *GdbError {
	errorType := strings.ToUpper(strings.TrimSpace(code))
	message, ok := gdbErrorMessages[errorType]
	if !ok {
		message = fmt.Sprintf("Error code received: '%s'", errorType)
	}
	return &GdbError{ErrorType: errorType, Message: message}
}

func (g *GdbError) Error() string {
	return g.Message
}

func (g *GdbError) Name() string {
	return "GdbError"
}

// UnexpectedReplyError 回复不符合命令预期的格式
type UnexpectedReplyError struct {
	Command string
	Reply   string
}

func (u *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("%s: command %q got %q", ErrUnexpectedReturn, u.Command, u.Reply)
}

func (u *UnexpectedReplyError) Unwrap() error {
	return ErrUnexpectedReturn
}

// TransportError socket层的错误
type TransportError struct {
	Op  string
	Err error
}

func (t *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport, t.Op, t.Err)
}

func (t *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (t *TransportError) Unwrap() error {
	return t.Err
}
