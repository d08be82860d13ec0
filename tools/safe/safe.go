package safe

import (
	"PRelay/logger"
)

// Go starts a goroutine that recovers from panic so a single bad handler
// cannot take the gateway down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
