//go:build linux

package bigpage

import (
	"golang.org/x/sys/unix"
)

// tryHugepage attempts an anonymous MAP_HUGETLB mapping of n bytes,
// rounded up to the huge page size. Returns nil if the kernel has no
// huge pages reserved (ENOMEM/EINVAL), letting Alloc fall back.
func tryHugepage(n int) *Block {
	const hugePageSize = 2 << 20 // 2 MiB, the common x86_64 huge page size
	size := (n + hugePageSize - 1) &^ (hugePageSize - 1)

	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err != nil {
		return nil
	}

	b := &Block{buf: buf[:n], mapped: true}
	b.free = func() {
		_ = unix.Munmap(buf)
	}
	return b
}
