package classifier

import (
	"context"
	"sync/atomic"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// Table maps a protocol event code to its category.
type Table[K comparable] map[K]alarm.Category

// Group lists the codes sharing one category.
type Group[K comparable] struct {
	Category alarm.Category
	Codes    []K
}

// Build flattens groups into a table. A code listed twice keeps its last category.
func Build[K comparable](groups ...Group[K]) Table[K] {
	t := make(Table[K])

	for _, g := range groups {
		for _, code := range g.Codes {
			t[code] = g.Category
		}
	}

	return t
}

// Classifier looks codes up in a table and reports unknown ones.
type Classifier[K comparable] struct {
	family  string
	table   Table[K]
	unknown atomic.Int64
}

// New creates a classifier for a protocol family.
func New[K comparable](family string, table Table[K]) *Classifier[K] {
	return &Classifier[K]{family: family, table: table}
}

// Lookup returns the category of code and whether the table knows it.
func (c *Classifier[K]) Lookup(code K) (alarm.Category, bool) {
	category, ok := c.table[code]

	return category, ok
}

// Classify returns the category of code, logging codes the table does not know.
func (c *Classifier[K]) Classify(ctx context.Context, code K) alarm.Category {
	category, ok := c.table[code]
	if !ok {
		c.unknown.Add(1)
		logger.WarnKV(ctx, "Unknown event code", "family", c.family, "code", code)

		return alarm.CategoryUnknown
	}

	return category
}

// Unknown returns how many unknown codes were classified so far.
func (c *Classifier[K]) Unknown() int64 {
	return c.unknown.Load()
}
