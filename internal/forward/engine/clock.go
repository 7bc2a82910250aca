package engine

import (
	"context"
	"time"
)

// Clock 时间抽象，测试中替换为假时钟
type Clock interface {
	Now() time.Time

	// Sleep 等待 d 或上下文取消，取消时返回 ctx.Err()
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock 真实时钟
func SystemClock() Clock { return systemClock{} }
