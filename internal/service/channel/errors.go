package channel

import (
	"errors"
	"fmt"
)

var (
	ErrStatus       = errors.New("unexpected status code")
	ErrMissingField = errors.New("field missing in response")
)

// ResolutionError 频道 API 查询失败。Op 为查询名称，Input 为传入的主播或聊天频道 ID。
type ResolutionError struct {
	Op    string
	Input string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("channel: %s(%s): %v", e.Op, e.Input, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolutionError 判断 err 是否包含 *ResolutionError
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
