//go:build ft8cgo

package dsp

// DefaultCodec returns the native cgo backend. A failed native init is not
// survivable in a build that asked for it, so it panics rather than
// silently decoding nothing.
func DefaultCodec() Codec {
	c, err := NewCgoCodec()
	if err != nil {
		panic(err)
	}
	return c
}
