package screenshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sessionrecorder/internal/logger"
	"sessionrecorder/pkg/model"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
)

// transientMarkers 宿主返回的可重试错误特征
var transientMarkers = []string{
	"user may be dragging",
	"cannot be edited right now",
	"tab is not in a state",
}

// ErrUnavailable 截图最终不可用
var ErrUnavailable = errors.New("screenshot unavailable")

// Capturer 宿主截图原语，返回图片 data URL
type Capturer interface {
	CaptureVisible(ctx context.Context, id model.ContextID) (string, error)
}

// CapturerFunc 函数适配为 Capturer
type CapturerFunc func(ctx context.Context, id model.ContextID) (string, error)

// CaptureVisible 调用函数本身
func (f CapturerFunc) CaptureVisible(ctx context.Context, id model.ContextID) (string, error) {
	return f(ctx, id)
}

// TransientError 宿主显式标记的瞬时截图错误
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient capture error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient 将错误标记为可重试
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, model.ErrContextInvalidated) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// UnavailableError 重试耗尽或遇到不可重试错误
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("screenshot unavailable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Service 带有限重试的截图服务，每次调用独立重试，不共享进行中的请求
type Service struct {
	capturer   Capturer
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        logger.Logger
}

// Option 服务选项
type Option func(*Service)

// WithSleep 替换等待函数，测试中用于记录退避时长
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

// WithBackoff 调整重试次数与基础退避
func WithBackoff(maxRetries int, base time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		s.baseDelay = base
	}
}

// NewService 创建截图服务
func NewService(c Capturer, l logger.Logger, opts ...Option) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{
		capturer:   c,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		sleep:      sleepContext,
		log:        l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture 获取当前可见区域截图，瞬时错误按 100/200/300ms 线性退避重试
func (s *Service) Capture(ctx context.Context, id model.ContextID) (string, error) {
	for attempt := 0; ; attempt++ {
		img, err := s.capturer.CaptureVisible(ctx, id)
		if err == nil {
			if attempt > 0 {
				s.log.Debug("截图重试成功", "context", string(id), "attempt", attempt+1)
			}
			return img, nil
		}
		if errors.Is(err, model.ErrContextInvalidated) {
			return "", err
		}
		if !IsTransient(err) || attempt >= s.maxRetries {
			s.log.Warn("截图失败", "context", string(id), "attempts", attempt+1, "error", err.Error())
			return "", &UnavailableError{Attempts: attempt + 1, Err: err}
		}

		wait := s.baseDelay * time.Duration(attempt+1)
		s.log.Debug("截图遇到瞬时错误，等待重试", "context", string(id), "attempt", attempt+1, "wait", wait, "error", err.Error())
		if err := s.sleep(ctx, wait); err != nil {
			return "", &UnavailableError{Attempts: attempt + 1, Err: err}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
