package connection

import (
	"errors"
	"fmt"
)

// ErrorCode 设备会话错误码
type ErrorCode string

const (
	// 传输层无法建立、认证失败或通道意外关闭
	ErrCodeConnection ErrorCode = "CONNECTION"
	// 等待提示符或期望输出超时
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// 任务参数类型或取值错误
	ErrCodeArgument ErrorCode = "ARGUMENT"
	// 平台不具备请求的能力（如没有配置模式）
	ErrCodePlatformCapability ErrorCode = "PLATFORM_CAPABILITY"
	// 提权/降权步骤失败
	ErrCodePrivilege ErrorCode = "PRIVILEGE"
	// 会话已关闭
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"
)

// DeviceError 设备会话错误
type DeviceError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *DeviceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// UserMessage 返回不带错误码的可读信息，用作失败Result的输出
func (e *DeviceError) UserMessage() string {
	return e.Message
}

// AddDetail 添加错误详细信息
func (e *DeviceError) AddDetail(key string, value interface{}) *DeviceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsCode 检查错误码是否匹配
func (e *DeviceError) IsCode(code ErrorCode) bool {
	return e.Code == code
}

func newDeviceError(code ErrorCode, cause error, format string, args ...interface{}) *DeviceError {
	return &DeviceError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func NewConnectionError(cause error, format string, args ...interface{}) *DeviceError {
	return newDeviceError(ErrCodeConnection, cause, format, args...)
}

func NewTimeoutError(cause error, format string, args ...interface{}) *DeviceError {
	return newDeviceError(ErrCodeTimeout, cause, format, args...)
}

func NewArgumentError(format string, args ...interface{}) *DeviceError {
	return newDeviceError(ErrCodeArgument, nil, format, args...)
}

func NewPlatformCapabilityError(format string, args ...interface{}) *DeviceError {
	return newDeviceError(ErrCodePlatformCapability, nil, format, args...)
}

func NewPrivilegeError(cause error, format string, args ...interface{}) *DeviceError {
	return newDeviceError(ErrCodePrivilege, cause, format, args...)
}

func NewSessionClosedError(host string) *DeviceError {
	return newDeviceError(ErrCodeSessionClosed, nil, "session to %s is closed", host).AddDetail("host", host)
}

// GetDeviceError 沿错误链查找DeviceError，找不到返回nil
func GetDeviceError(err error) *DeviceError {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// IsErrorCode 检查错误链中是否存在指定错误码
func IsErrorCode(err error, code ErrorCode) bool {
	if de := GetDeviceError(err); de != nil {
		return de.IsCode(code)
	}
	return false
}

// Message 返回面向用户的错误信息
func Message(err error) string {
	if err == nil {
		return ""
	}
	if de := GetDeviceError(err); de != nil {
		return de.UserMessage()
	}
	return err.Error()
}

// IsFatal 连接类错误会使会话进入CLOSED
func IsFatal(err error) bool {
	return IsErrorCode(err, ErrCodeConnection) || IsErrorCode(err, ErrCodeSessionClosed)
}
