package procfs

// Generator renders one /proc file's current contents on demand. Real
// generators live outside this module as callable collaborators (the design
//'s procfs content-generation boundary); the three built into this
// package back their numbers with genuine prometheus.Gauge/Counter values
// so the boundary has something concrete to format instead of a static
// string.
type Generator func() []byte

// Collectors is the set of live kernel counters procfs' built-in
// generators render. A kernel wires its real buddy allocator and
// scheduler into these at boot; tests can supply fakes.
type Collectors struct {
	MemTotalKB     func() uint64
	MemFreeKB      func() uint64
	Load1, Load5, Load15 func() float64
	UptimeSeconds  func() float64
}
