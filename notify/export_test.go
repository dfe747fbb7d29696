package notify

import "time"

func SetRetryMinInterval(d time.Duration) (restore func()) {
	old := retryMinInterval
	retryMinInterval = d
	return func() { retryMinInterval = old }
}
