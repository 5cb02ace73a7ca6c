package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/iceymoss/go-discovery/pkg/xerr"
)

type CodeMsg struct {
	Code int    // 错误码
	Msg  string // 错误消息
	Err  error  // 原始错误
}

// 实现 error 接口
func (e *CodeMsg) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code=%d, msg=%s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("code=%d, msg=%s", e.Code, e.Msg)
}

func (e *CodeMsg) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is 按错误码比较，哨兵错误可以直接用 errors.Is 判断
func (e *CodeMsg) Is(target error) bool {
	t, ok := target.(*CodeMsg)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Msg == "" || e.Msg == t.Msg)
}

// New 构造函数
func New(code int, msg string) error {
	return &CodeMsg{Code: code, Msg: msg}
}

// Wrap 携带原始错误
func Wrap(code int, msg string, err error) error {
	return &CodeMsg{Code: code, Msg: msg, Err: err}
}

// Code 提取错误链上第一个 CodeMsg 的错误码，没有则返回 0
func Code(err error) int {
	var cm *CodeMsg
	if stderrors.As(err, &cm) {
		return cm.Code
	}
	return 0
}

// IsCode 判断错误链上是否带有指定错误码
func IsCode(err error, code int) bool {
	for err != nil {
		if cm, ok := err.(*CodeMsg); ok && cm.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

func Conflict(msg string) error { return New(xerr.ErrConflict, msg) }

func Validation(msg string) error { return New(xerr.ErrValidation, msg) }

func NotFound(msg string) error { return New(xerr.ErrNotFound, msg) }

func Transient(msg string, err error) error { return Wrap(xerr.ErrTransient, msg, err) }

func Permanent(msg string, err error) error { return Wrap(xerr.ErrPermanent, msg, err) }

func IsConflict(err error) bool { return IsCode(err, xerr.ErrConflict) }

func IsValidation(err error) bool { return IsCode(err, xerr.ErrValidation) }

func IsNotFound(err error) bool { return IsCode(err, xerr.ErrNotFound) }

func IsTransient(err error) bool { return IsCode(err, xerr.ErrTransient) }

func IsPermanent(err error) bool { return IsCode(err, xerr.ErrPermanent) }
