package utils

import (
	"sync"

	"github.com/bissonex/vscode-amiga-assembly/constants"
)

// StatusManager 记录调试会话的连接状态
type StatusManager struct {
	lock   sync.RWMutex
	status constants.SessionState
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: constants.Idle,
	}
}

func (s *StatusManager) Set(status constants.SessionState) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() constants.SessionState {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...constants.SessionState) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}

// Transition 仅当当前状态属于from时切换到to，返回是否切换成功
func (s *StatusManager) Transition(to constants.SessionState, from ...constants.SessionState) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, status := range from {
		if s.status == status {
			s.status = to
			return true
		}
	}
	return false
}
