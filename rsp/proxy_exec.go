package rsp

import (
	"context"
	"fmt"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	e "github.com/bissonex/vscode-amiga-assembly/error"
)

func (p *Proxy) vContCommand(action constants.ActionType, args string, thread *Thread) string {
	return fmt.Sprintf("vCont;%s%s:%s", action, args, thread.Spec(p.Capabilities().Multiprocess))
}

// ContinueExecution 继续执行
func (p *Proxy) ContinueExecution(ctx context.Context, thread *Thread) error {
	return p.vCont(ctx, constants.ContinueAction, "", thread)
}

// Pause 暂停
func (p *Proxy) Pause(ctx context.Context, thread *Thread) error {
	return p.vCont(ctx, constants.StopAction, "", thread)
}

// StepIn 单步执行一条指令
func (p *Proxy) StepIn(ctx context.Context, thread *Thread) error {
	return p.vCont(ctx, constants.StepAction, "", thread)
}

// StepToRange 一直执行，直到pc离开[start, end)
func (p *Proxy) StepToRange(ctx context.Context, thread *Thread, start, end uint32) error {
	return p.vCont(ctx, constants.RangeAction, fmt.Sprintf("%x,%x", start, end), thread)
}

// vCont 只等待调试桩接受命令，之后的停止事件通过OnStop异步通知
func (p *Proxy) vCont(ctx context.Context, action constants.ActionType, args string, thread *Thread) error {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return err
	}
	resolved, ok := p.threads.Resolve(thread)
	if !ok {
		return fmt.Errorf("%w: %v", e.ErrThreadNotFound, thread)
	}
	command := p.vContCommand(action, args, resolved)
	reply, err := p.request(ctx, command, true)
	if err != nil {
		return err
	}
	switch {
	case reply == replyOK:
		return nil
	case IsStopReply(reply):
		// all-stop模式下调试桩可能直接以停止回复应答
		p.enqueueStop(reply)
		return nil
	default:
		return &e.UnexpectedReplyError{Command: command, Reply: reply}
	}
}

// GetHaltStatus 发送?，然后发送vStopped直到回复OK，按到达顺序返回每个线程的停止状态
func (p *Proxy) GetHaltStatus(ctx context.Context) ([]HaltStatus, error) {
	p.cmdLock.Lock()
	defer p.cmdLock.Unlock()
	if err := p.checkConnected(); err != nil {
		return nil, err
	}
	var statuses []HaltStatus
	command := "?"
	for {
		reply, err := p.request(ctx, command, true)
		if err != nil {
			return nil, err
		}
		if reply == replyOK {
			return statuses, nil
		}
		event, err := ParseStopReply(reply)
		if err != nil {
			return nil, &e.UnexpectedReplyError{Command: command, Reply: reply}
		}
		if event.Status.Thread != nil {
			event.Status.Thread = p.threads.Add(event.Status.Thread)
		}
		statuses = append(statuses, event.Status)
		command = "vStopped"
	}
}
