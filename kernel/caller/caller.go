// Package caller provides call-chain de-duplication used when a kernel
// warning would otherwise be printed once per call site on every occurrence.
// Adapted from the teacher kernel's caller/caller.go.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Dump prints the call stack starting at the given skip depth, used from
// panic handlers and asserts so the console shows the faulting chain.
func Dump(start int) {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}

// DistinctCaller tracks whether a given call chain has been observed before,
// so a warning issued from many call sites is only printed once per site.
type DistinctCaller struct {
	sync.Mutex
	Enabled bool
	did     map[uintptr]bool
	Whitelist map[string]bool
}

func (dc *DistinctCaller) pchash(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		panic("pchash: empty")
	}
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Len reports the number of distinct call chains recorded so far.
func (dc *DistinctCaller) Len() int {
	dc.Lock()
	defer dc.Unlock()
	return len(dc.did)
}

// Distinct reports whether the chain that called it (three frames up) is new,
// returning a formatted trace the first time each chain is seen.
func (dc *DistinctCaller) Distinct() (bool, string) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false, ""
	}
	if dc.did == nil {
		dc.did = make(map[uintptr]bool)
	}
	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, sz)
		got = runtime.Callers(3, pcs)
		if got == 0 {
			return false, ""
		}
		pcs = pcs[:got]
	}
	h := dc.pchash(pcs)
	if dc.did[h] {
		return false, ""
	}
	dc.did[h] = true
	frames := runtime.CallersFrames(pcs)
	fs := ""
	for {
		fr, more := frames.Next()
		if dc.Whitelist[fr.Function] {
			return false, ""
		}
		if fs == "" {
			fs = fmt.Sprintf("%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		} else {
			fs += fmt.Sprintf("\t%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		}
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	return true, fs
}
