package rsp

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	e "github.com/bissonex/vscode-amiga-assembly/error"
)

// entryBreakpoint 临时断点，使程序停在第一条指令
const entryBreakpoint = "Z0,0,0"

// programPath 将本地路径转换为模拟器dh0卷上的路径
func programPath(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return "dh0:" + path[i+1:]
	}
	if strings.Contains(path, ":") {
		return path
	}
	return "dh0:" + path
}

// Load 通过vRun加载程序
// stopOnEntry为true时在入口处停止，发送待设置的断点，入口停止事件分发完成后返回；
// 否则发送continue，待设置的断点在下一次停止时发送
func (p *Proxy) Load(ctx context.Context, path string, stopOnEntry bool) error {
	p.cmdLock.Lock()
	entry, err := p.load(ctx, path, stopOnEntry)
	p.cmdLock.Unlock()
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if err = p.sendPendingBreakpoints(ctx); err != nil {
		return err
	}
	entry.Status.Reason = constants.ReasonEntry
	done, err := p.enqueueEvent(entry)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Proxy) load(ctx context.Context, path string, stopOnEntry bool) (*StopEvent, error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}
	p.flushArmed.Store(false)
	p.segments.Clear()
	p.threads.Clear()
	p.clearRegisters()

	entry, err := p.run(ctx, path, stopOnEntry)
	if err != nil {
		p.segments.Clear()
		p.threads.Clear()
		p.status.Transition(constants.Ready, constants.Loaded)
		p.log.Errorf("[Load] load %s fail, err = %v", path, err)
		return nil, err
	}
	return entry, nil
}

func (p *Proxy) run(ctx context.Context, path string, stopOnEntry bool) (*StopEvent, error) {
	if stopOnEntry {
		if err := p.requestOK(ctx, entryBreakpoint); err != nil {
			return nil, err
		}
	}
	command := fmt.Sprintf("vRun;%s;", HexString(programPath(path)))
	reply, err := p.request(ctx, command, true)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(reply, "AS") {
		return nil, e.ErrBinaries
	}
	event, err := ParseStopReply(reply)
	if err != nil {
		return nil, &e.UnexpectedReplyError{Command: "vRun", Reply: reply}
	}

	if err = p.loadSegments(ctx); err != nil {
		return nil, err
	}
	if err = p.loadThreads(ctx); err != nil {
		return nil, err
	}
	p.applyStop(event)
	if _, err = p.fetchRegisters(ctx); err != nil {
		return nil, err
	}
	p.status.Set(constants.Loaded)
	p.log.Infof("[Load] %s loaded, segments = %d, threads = %d", path, p.segments.Len(), p.threads.Len())

	if stopOnEntry {
		return event, nil
	}
	cpu, ok := p.threads.Current(constants.CPUThread)
	if !ok {
		return nil, e.ErrThreadNotFound
	}
	// 先标记，continue之后的停止事件可能在回复处理完之前就被分发
	p.flushArmed.Store(true)
	if err = p.requestOK(ctx, p.vContCommand(constants.ContinueAction, "", cpu)); err != nil {
		p.flushArmed.Store(false)
		return nil, err
	}
	return nil, nil
}

func (p *Proxy) loadSegments(ctx context.Context) error {
	reply, err := p.request(ctx, "qOffsets", false)
	if err != nil {
		return err
	}
	segments, err := ParseSegments(reply)
	if err != nil {
		return &e.UnexpectedReplyError{Command: "qOffsets", Reply: reply}
	}
	p.segments.Set(segments)
	return nil
}

func (p *Proxy) loadThreads(ctx context.Context) error {
	command := "qfThreadInfo"
	for {
		reply, err := p.request(ctx, command, false)
		if err != nil {
			return err
		}
		threads, done, err := ParseThreadInfo(reply)
		if err != nil {
			return &e.UnexpectedReplyError{Command: command, Reply: reply}
		}
		for _, t := range threads {
			p.threads.Add(t)
		}
		if done {
			return nil
		}
		command = "qsThreadInfo"
	}
}
