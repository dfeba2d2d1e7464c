package util

import (
	"errors"
	"fmt"
)

// 错误分级：校验错误同步拒绝；乐观锁冲突内部有界重试后作为瞬态错误上抛；
// 外部服务错误在组件内部降级吸收；数据完整性错误直接上抛，不得静默修复。
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrExternalService     = errors.New("external service error")
	ErrDataIntegrity       = errors.New("data integrity error")
)

var (
	ErrEmailRegistered    = errors.New("该邮箱已被注册")
	ErrSessionNotFound    = fmt.Errorf("session %w", ErrNotFound)
	ErrItemNotFound       = fmt.Errorf("item %w", ErrNotFound)
	ErrConceptNotFound    = fmt.Errorf("concept %w", ErrNotFound)
	ErrLearnerNotFound    = fmt.Errorf("learner %w", ErrNotFound)
	ErrSessionTerminated  = errors.New("session already terminated")
	ErrSessionBusy        = errors.New("session is processing another submission")
	ErrItemNotInSession   = errors.New("item was not presented in this session")
	ErrEmptyItemBank      = errors.New("no items registered for concept")
)

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
