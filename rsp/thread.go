package rsp

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bissonex/vscode-amiga-assembly/constants"
	"github.com/emirpasic/gods/maps/treemap"
)

// DefaultProcessID 调试桩未提供多进程信息时使用的进程id
const DefaultProcessID = 1

// Thread 调试桩中的一个执行上下文
type Thread struct {
	ProcessID int
	ThreadID  int
	Kind      constants.ThreadKind
}

// NewThread 根据Amiga系统线程id推断线程类型
func NewThread(processID, threadID int) *Thread {
	return &Thread{ProcessID: processID, ThreadID: threadID, Kind: kindOf(threadID)}
}

func kindOf(threadID int) constants.ThreadKind {
	switch threadID {
	case constants.SysThreadIDCPU:
		return constants.CPUThread
	case constants.SysThreadIDCopper:
		return constants.CopperThread
	default:
		return constants.OtherThread
	}
}

// Spec vCont等命令中的线程描述
func (t *Thread) Spec(multiprocess bool) string {
	if multiprocess {
		return fmt.Sprintf("p%x.%x", t.ProcessID, t.ThreadID)
	}
	return fmt.Sprintf("%x", t.ThreadID)
}

func (t *Thread) String() string {
	return fmt.Sprintf("%s(p%x.%x)", t.Kind, t.ProcessID, t.ThreadID)
}

// ParseThreadID 解析 p<pid>.<tid> 或 <tid>
func ParseThreadID(s string) (*Thread, error) {
	s = strings.TrimSpace(s)
	processID := DefaultProcessID
	if strings.HasPrefix(s, "p") {
		pid, tid, found := strings.Cut(s[1:], ".")
		if !found {
			return nil, fmt.Errorf("invalid thread id %q", s)
		}
		v, err := strconv.ParseInt(pid, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid process id in %q: %w", s, err)
		}
		processID = int(v)
		s = tid
	}
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid thread id %q: %w", s, err)
	}
	return NewThread(processID, int(v)), nil
}

type threadKey struct {
	processID int
	threadID  int
}

func threadKeyComparator(a, b interface{}) int {
	ka := a.(threadKey)
	kb := b.(threadKey)
	switch {
	case ka.processID != kb.processID:
		return ka.processID - kb.processID
	default:
		return ka.threadID - kb.threadID
	}
}

// ThreadRegistry 以(processId, threadId)为键保存线程，并记录每种类型的当前线程
type ThreadRegistry struct {
	lock    sync.RWMutex
	threads *treemap.Map
	current map[constants.ThreadKind]threadKey
}

func NewThreadRegistry() *ThreadRegistry {
	return &ThreadRegistry{
		threads: treemap.NewWith(threadKeyComparator),
		current: make(map[constants.ThreadKind]threadKey),
	}
}

// Add 注册线程，已存在时返回已登记的实例
func (r *ThreadRegistry) Add(t *Thread) *Thread {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := threadKey{t.ProcessID, t.ThreadID}
	if v, found := r.threads.Get(key); found {
		return v.(*Thread)
	}
	r.threads.Put(key, t)
	if _, ok := r.current[t.Kind]; !ok {
		r.current[t.Kind] = key
	}
	return t
}

// Get 按id查找线程
func (r *ThreadRegistry) Get(processID, threadID int) (*Thread, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	v, found := r.threads.Get(threadKey{processID, threadID})
	if !found {
		return nil, false
	}
	return v.(*Thread), true
}

// Resolve 按值查找调用方持有的线程
func (r *ThreadRegistry) Resolve(t *Thread) (*Thread, bool) {
	if t == nil {
		return nil, false
	}
	return r.Get(t.ProcessID, t.ThreadID)
}

// SetCurrent 停止事件到达时更新该类型的当前线程
func (r *ThreadRegistry) SetCurrent(t *Thread) *Thread {
	registered := r.Add(t)
	r.lock.Lock()
	defer r.lock.Unlock()
	r.current[registered.Kind] = threadKey{registered.ProcessID, registered.ThreadID}
	return registered
}

// Current 某种类型的当前线程
func (r *ThreadRegistry) Current(kind constants.ThreadKind) (*Thread, bool) {
	r.lock.RLock()
	key, ok := r.current[kind]
	r.lock.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Get(key.processID, key.threadID)
}

// All 按(processId, threadId)排序的所有线程
func (r *ThreadRegistry) All() []*Thread {
	r.lock.RLock()
	defer r.lock.RUnlock()
	values := r.threads.Values()
	threads := make([]*Thread, 0, len(values))
	for _, v := range values {
		threads = append(threads, v.(*Thread))
	}
	return threads
}

func (r *ThreadRegistry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.threads.Size()
}

// Clear 每次load前清空
func (r *ThreadRegistry) Clear() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.threads.Clear()
	r.current = make(map[constants.ThreadKind]threadKey)
}

// ParseThreadInfo 解析qfThreadInfo/qsThreadInfo的回复，返回线程列表以及列表是否结束
func ParseThreadInfo(reply string) ([]*Thread, bool, error) {
	if reply == "l" {
		return nil, true, nil
	}
	if !strings.HasPrefix(reply, "m") {
		return nil, false, fmt.Errorf("invalid thread info reply %q", reply)
	}
	var threads []*Thread
	for _, item := range strings.Split(reply[1:], ",") {
		item = strings.TrimSpace(item)
		switch item {
		case "":
			continue
		case "l":
			return threads, true, nil
		}
		t, err := ParseThreadID(item)
		if err != nil {
			return nil, false, err
		}
		threads = append(threads, t)
	}
	return threads, false, nil
}
