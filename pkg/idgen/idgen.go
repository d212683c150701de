package idgen

import "sync/atomic"

// Int64 returns values 1,2,3... Zero is never generated, and values never repeat
// within the lifetime of the generator.
type Int64 struct {
	last atomic.Int64
}

func (u *Int64) Next() int64 {
	return u.last.Add(1)
}

// Last returns the most recently generated value, or zero if Next has never been called.
func (u *Int64) Last() int64 {
	return u.last.Load()
}
