package server

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/samber/lo"
)

// GameCatalog maps each requestable game to its image URL. It can be replaced at runtime.
type GameCatalog struct {
	sync.RWMutex
	games map[string]string
}

func NewGameCatalog(games map[string]string) *GameCatalog {
	c := &GameCatalog{}
	c.Replace(games)
	return c
}

func (c *GameCatalog) Has(name string) bool {
	c.RLock()
	defer c.RUnlock()
	_, ok := c.games[name]
	return ok
}

// ImageURL returns the image configured for the game, or "" when there is none.
func (c *GameCatalog) ImageURL(name string) string {
	c.RLock()
	defer c.RUnlock()
	return c.games[name]
}

// Names returns the game names in lexical order.
func (c *GameCatalog) Names() []string {
	c.RLock()
	names := lo.Keys(c.games)
	c.RUnlock()
	slices.Sort(names)
	return names
}

func (c *GameCatalog) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.games)
}

// ValidateGameNames rejects catalogs Discord could not render: no games at all, or a
// name too long to fit in a custom ID.
func ValidateGameNames(games map[string]string) error {
	names := lo.Without(lo.Keys(games), "")
	if len(names) == 0 {
		return errors.New("at least one game must be configured")
	}
	slices.Sort(names)
	for _, name := range names {
		if n := utf8.RuneCountInString(name); n > MaxGameNameLength {
			return fmt.Errorf("game name %q is %d characters, the limit is %d", name, n, MaxGameNameLength)
		}
	}
	return nil
}

// Replace swaps in a new set of games. Existing requests keep their game name.
func (c *GameCatalog) Replace(games map[string]string) {
	m := make(map[string]string, len(games))
	for name, url := range games {
		if name == "" {
			continue
		}
		m[name] = url
	}
	c.Lock()
	c.games = m
	c.Unlock()
}
