//go:build !amd64 && !arm64

package syscalls

// No static table for this architecture; numbers render as syscall_<nr>.
var names = [...]string{}
