// Package namegen hands out the human readable names of dispatches, such as
// "brave-lovelace", so concurrent runs can be told apart in logs and in
// container names.
package namegen

import (
	"strings"
	"sync"

	vendor "github.com/anandvarma/namegen"
)

var (
	mu  sync.Mutex
	gen = vendor.New()
)

type ID string

// Get returns a new name. It is safe for concurrent use.
func Get() ID {
	mu.Lock()
	defer mu.Unlock()
	return ID(strings.ToLower(gen.Get()))
}

func (id ID) String() string {
	return string(id)
}

// Qualify prefixes name with the dispatch name.
func (id ID) Qualify(name string) string {
	if id == "" {
		return name
	}
	return string(id) + "-" + name
}
