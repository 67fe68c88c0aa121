// Package guard forces test mode for packages that import it, keeping
// end-to-end tests from touching external systems.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ATLAS_TEST_MODE") == "" {
			_ = os.Setenv("ATLAS_TEST_MODE", "1")
		}
	})
}
