package repository

import "context"

// Cursor walks an ordered snapshot of record keys
type Cursor interface {
	// Valid reports whether the cursor points at a record
	Valid() bool

	// Key returns the key under the cursor
	Key() string

	// Advance skips n positions
	Advance(n int)

	// Continue moves to the next position
	Continue()

	// Delete removes the record under the cursor within the transaction
	Delete(ctx context.Context) error
}

// keyCursor is a Cursor over keys captured inside a write transaction.
// The snapshot cannot go stale because no other writer runs until the
// transaction ends.
type keyCursor struct {
	keys []string
	pos  int
	del  func(ctx context.Context, key string) error
}

func newKeyCursor(keys []string, del func(ctx context.Context, key string) error) *keyCursor {
	return &keyCursor{keys: keys, del: del}
}

func (c *keyCursor) Valid() bool {
	return c.pos >= 0 && c.pos < len(c.keys)
}

func (c *keyCursor) Key() string {
	if !c.Valid() {
		return ""
	}
	return c.keys[c.pos]
}

func (c *keyCursor) Advance(n int) {
	if n > 0 {
		c.pos += n
	}
}

func (c *keyCursor) Continue() {
	c.pos++
}

func (c *keyCursor) Delete(ctx context.Context) error {
	if !c.Valid() {
		return nil
	}
	return c.del(ctx, c.keys[c.pos])
}
