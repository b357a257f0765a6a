package utils

import (
	"github.com/google/uuid"
)

// GetUUID 生成会话id，用于日志关联
func GetUUID() string {
	return uuid.NewString()
}
