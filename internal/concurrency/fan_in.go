package concurrency

import (
	"sync"
)

// Drain consumes ch on a separate goroutine, invoking drain for each message.
// The returned WaitGroup completes once ch is closed and fully drained.
func Drain[T any](ch <-chan T, drain func(T)) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		for msg := range ch {
			drain(msg)
		}
		wg.Done()
	}()
	return wg
}
