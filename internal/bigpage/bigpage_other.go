//go:build !linux

package bigpage

// tryHugepage has no non-Linux implementation; Alloc always falls back
// to a plain heap allocation on these platforms.
func tryHugepage(n int) *Block { return nil }
