// Package console adapts the driver-facing putchar contract 
// into an io.Writer the rest of the kernel can Printf through, and provides
// the panic banner used by the fatal error tier.
package console

import (
	"fmt"
	"io"
	"sync"
)

// Putcharer is implemented by the UART console driver collaborator. It must
// be reentrant and non-blocking, per the design.
type Putcharer interface {
	Putchar(b byte)
}

// Console serializes writes from possibly many CPUs onto a Putcharer.
type Console struct {
	mu  sync.Mutex
	dev Putcharer
}

// New wraps dev, the console device installed by the boot path.
func New(dev Putcharer) *Console {
	return &Console{dev: dev}
}

var _ io.Writer = (*Console)(nil)

// Write implements io.Writer by putchar-ing each byte under the console lock.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		c.dev.Putchar(b)
	}
	return len(p), nil
}

// global is the console installed at boot; nil until Install runs.
var global *Console

// Install records the system console for Printf and Panic to use.
func Install(c *Console) { global = c }

// Printf writes to the installed console, falling back to stdout before
// Install runs (host-side tests build and run code before there is a UART).
func Printf(format string, args ...interface{}) {
	if global == nil {
		fmt.Printf(format, args...)
		return
	}
	fmt.Fprintf(global, format, args...)
}

// Panic prints the panic banner via the raw console and then panics so the
// caller's recover/os-exit path runs. The calling CPU is expected to halt
// with WFI after that; other CPUs keep running until they too trap and
// panic.
func Panic(format string, args ...interface{}) {
	Printf("\n*** kernel panic: "+format+" ***\n", args...)
	panic(fmt.Sprintf(format, args...))
}
