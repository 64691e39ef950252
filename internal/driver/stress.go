package driver

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LoginAttemptResult — результат одной попытки входа внутри StressLogin.
type LoginAttemptResult struct {
	Attempt         int
	Success         bool
	Error           string
	LoginTimeSeconds float64
}

// StressLogin открывает N параллельных сессий входа и сразу их закрывает,
// не касаясь остальных шагов пайплайна. Используется, чтобы определить,
// сколько параллельных сессий выдерживает портал, прежде чем начать
// отклонять входы — операционная диагностика, не часть потока заказов.
func (d *Driver) StressLogin(ctx context.Context, attempts int) []LoginAttemptResult {
	results := make([]LoginAttemptResult, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(attempt int) {
			defer wg.Done()
			results[attempt] = d.singleLoginAttempt(ctx, attempt+1)
		}(i)
	}

	wg.Wait()
	return results
}

func (d *Driver) singleLoginAttempt(ctx context.Context, attempt int) LoginAttemptResult {
	started := time.Now()

	r, err := d.newRun(int64(attempt), func(Progress) {})
	if err != nil {
		return LoginAttemptResult{Attempt: attempt, Success: false, Error: fmt.Sprintf("can't open session: %v", err)}
	}
	defer r.teardown()

	if ctx.Err() != nil {
		return LoginAttemptResult{Attempt: attempt, Success: false, Error: ctx.Err().Error()}
	}

	if err := r.login(); err != nil {
		return LoginAttemptResult{
			Attempt:          attempt,
			Success:          false,
			Error:            err.Error(),
			LoginTimeSeconds: time.Since(started).Seconds(),
		}
	}

	return LoginAttemptResult{
		Attempt:          attempt,
		Success:          true,
		LoginTimeSeconds: time.Since(started).Seconds(),
	}
}
