package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoActiveProvider indicates chat was requested before any provider was
// registered, or the active entry was removed.
var ErrNoActiveProvider = errors.New("no active LLM provider")

// UnknownProviderError is returned by SetActive for names that were never
// registered.
type UnknownProviderError struct {
	Name       string
	Registered []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q (registered: %s)",
		e.Name, strings.Join(e.Registered, ", "))
}
