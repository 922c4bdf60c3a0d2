package model

import "errors"

// 服务层统一的领域错误，由 HTTP 层映射为状态码。
var (
	ErrNotFound         = errors.New("not found")          // 实体不存在
	ErrForbidden        = errors.New("forbidden")          // 角色或归属不符
	ErrInvalidInput     = errors.New("invalid input")      // 必填缺失或格式错误
	ErrConflict         = errors.New("conflict")           // 重复报名 / 邮箱已占用
	ErrCapacityExceeded = errors.New("capacity exceeded")  // 活动人数已满
	ErrEventInactive    = errors.New("event is not active") // 活动已关闭
)
