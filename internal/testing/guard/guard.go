// Package guard switches binaries into test mode when imported by tests.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("BILLING_TEST_MODE") == "" {
			_ = os.Setenv("BILLING_TEST_MODE", "1")
		}
		if os.Getenv("GATEWAY_MODE") == "" {
			_ = os.Setenv("GATEWAY_MODE", "test")
		}
	})
}
