package memory

import (
	"github.com/ajiwo/callquota/backends"
)

func init() {
	backends.Register("memory", func(config any) (backends.Backend, error) {
		return New(), nil
	})
}
