package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SCOPEGUARD_TEST_MODE") == "" {
			_ = os.Setenv("SCOPEGUARD_TEST_MODE", "1")
		}
	})
}
