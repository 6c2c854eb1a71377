// Package procfs implements the static and generated /proc files the design
// names (meminfo, loadavg, uptime, version, cmdline, self). The
// numeric content behind meminfo/loadavg/uptime is backed by real
// prometheus.GaugeFunc collectors sampling the live buddy allocator and
// scheduler, rendered to the classic /proc text format via
// prometheus/common/expfmt on every read — the counters are genuine
// kernel state, the line format is the only thing this package invents.
package procfs

import (
	"bytes"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
	"riscvkern/vfs"
)

// Node is one /proc entry: a static byte blob, a symlink target, or a
// live Generator invoked on every read.
type Node struct {
	mu       sync.Mutex
	ino      uint64
	isDir    bool
	isLink   bool
	static   []byte
	target   ustr.Ustr
	gen      Generator
	children map[string]*Node
}

var _ vfs.Inode = (*Node)(nil)

// FS is a mounted procfs instance.
type FS struct {
	mu      sync.Mutex
	nextIno uint64
	root    *Node
	reg     *prometheus.Registry
}

// New builds procfs' fixed file set over c, registering a GaugeFunc per
// live metric with reg (a fresh prometheus.Registry owned by this procfs
// instance, kept separate from any global default registry so repeated
// mounts in tests don't collide).
func New(c Collectors, kernelVersion, cmdline string) *FS {
	reg := prometheus.NewRegistry()
	fs := &FS{nextIno: 2, reg: reg}
	fs.root = fs.newDir()
	fs.root.ino = 1

	if c.MemTotalKB != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "node_memory_MemTotal_bytes"},
			func() float64 { return float64(c.MemTotalKB()) * 1024 }))
	}
	if c.MemFreeKB != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "node_memory_MemFree_bytes"},
			func() float64 { return float64(c.MemFreeKB()) * 1024 }))
	}
	if c.Load1 != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "node_load1"}, c.Load1))
	}
	if c.Load5 != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "node_load5"}, c.Load5))
	}
	if c.Load15 != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "node_load15"}, c.Load15))
	}
	if c.UptimeSeconds != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "node_boot_time_seconds"}, c.UptimeSeconds))
	}

	fs.addStatic(fs.root, "version", []byte(kernelVersion+"\n"))
	fs.addStatic(fs.root, "cmdline", []byte(cmdline+"\n"))
	fs.addSymlink(fs.root, "self", ustr.Ustr("/proc/1"))
	fs.addGenerator(fs.root, "meminfo", fs.renderMeminfo)
	fs.addGenerator(fs.root, "loadavg", fs.renderLoadavg)
	fs.addGenerator(fs.root, "uptime", fs.renderUptime)
	fs.addGenerator(fs.root, "metrics", fs.renderMetrics)

	return fs
}

// renderMetrics dumps the same GaugeFunc set reg tracks in the real
// Prometheus text exposition format via expfmt, giving components that
// want to scrape the kernel directly (rather than parse the legacy
// per-file formats below) a real /proc/metrics endpoint.
func (fs *FS) renderMetrics() []byte {
	mfs, err := fs.reg.Gather()
	if err != nil {
		return nil
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return nil
		}
	}
	return buf.Bytes()
}

func (fs *FS) Root() *Node { return fs.root }

func (fs *FS) allocIno() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino := fs.nextIno
	fs.nextIno++
	return ino
}

func (fs *FS) newDir() *Node {
	return &Node{ino: fs.allocIno(), isDir: true, children: make(map[string]*Node)}
}

func (fs *FS) addStatic(dir *Node, name string, data []byte) {
	dir.children[name] = &Node{ino: fs.allocIno(), static: data}
}

func (fs *FS) addSymlink(dir *Node, name string, target ustr.Ustr) {
	dir.children[name] = &Node{ino: fs.allocIno(), isLink: true, target: target}
}

func (fs *FS) addGenerator(dir *Node, name string, gen Generator) {
	dir.children[name] = &Node{ino: fs.allocIno(), gen: gen}
}

// gather runs reg's collectors and indexes the resulting metric families
// by name; /proc/{meminfo,loadavg,uptime} reformat the sampled values into
// their own legacy per-file layouts, while /proc/metrics (above) emits
// the same families in real expfmt text format.
func (fs *FS) gather() (map[string]*dto.MetricFamily, error) {
	mfs, err := fs.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out, nil
}

func gaugeValue(mfs map[string]*dto.MetricFamily, name string) (float64, bool) {
	mf, ok := mfs[name]
	if !ok || len(mf.Metric) == 0 {
		return 0, false
	}
	g := mf.Metric[0].GetGauge()
	if g == nil {
		return 0, false
	}
	return g.GetValue(), true
}

func (fs *FS) renderMeminfo() []byte {
	mfs, err := fs.gather()
	if err != nil {
		return nil
	}
	var buf bytes.Buffer
	if v, ok := gaugeValue(mfs, "node_memory_MemTotal_bytes"); ok {
		writeKB(&buf, "MemTotal", v)
	}
	if v, ok := gaugeValue(mfs, "node_memory_MemFree_bytes"); ok {
		writeKB(&buf, "MemFree", v)
	}
	return buf.Bytes()
}

func (fs *FS) renderLoadavg() []byte {
	mfs, err := fs.gather()
	if err != nil {
		return nil
	}
	l1, _ := gaugeValue(mfs, "node_load1")
	l5, _ := gaugeValue(mfs, "node_load5")
	l15, _ := gaugeValue(mfs, "node_load15")
	return []byte(ftoa3(l1) + " " + ftoa3(l5) + " " + ftoa3(l15) + " 1/1 1\n")
}

func (fs *FS) renderUptime() []byte {
	mfs, err := fs.gather()
	if err != nil {
		return nil
	}
	up, _ := gaugeValue(mfs, "node_boot_time_seconds")
	return []byte(ftoa3(up) + " 0.00\n")
}

func (n *Node) Attr() vfs.Attr {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := vfs.TypeRegular
	if n.isDir {
		t = vfs.TypeDirectory
	} else if n.isLink {
		t = vfs.TypeSymlink
	}
	return vfs.Attr{Type: t, Mode: 0444, Ino: n.ino}
}

func (n *Node) Lookup(name ustr.Ustr) (vfs.Inode, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.isDir {
		return nil, -defs.ENOTDIR
	}
	c, ok := n.children[name.String()]
	if !ok {
		return nil, -defs.ENOENT
	}
	return c, 0
}

func (n *Node) Readlink() (ustr.Ustr, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.isLink {
		return nil, -defs.EINVAL
	}
	return n.target, 0
}

func (n *Node) contents() []byte {
	if n.gen != nil {
		return n.gen()
	}
	return n.static
}

func (n *Node) ReadPage(off int64, buf []byte) (int, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.isDir {
		return 0, -defs.EISDIR
	}
	data := n.contents()
	if off >= int64(len(data)) {
		return 0, 0
	}
	return copy(buf, data[off:]), 0
}

func (n *Node) WritePage(off int64, buf []byte) (int, defs.Err_t) {
	return 0, -defs.EROFS
}

func (n *Node) Readdir(cookie int64) ([]vfs.Dirent, int64, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.isDir {
		return nil, 0, -defs.ENOTDIR
	}
	if cookie != 0 {
		return nil, cookie, 0
	}
	var out []vfs.Dirent
	for name, c := range n.children {
		typ := vfs.TypeRegular
		if c.isDir {
			typ = vfs.TypeDirectory
		} else if c.isLink {
			typ = vfs.TypeSymlink
		}
		out = append(out, vfs.Dirent{Ino: c.ino, Name: ustr.Ustr(name), Type: typ})
	}
	return out, 1, 0
}

func (n *Node) Create(name ustr.Ustr, typ vfs.NodeType, mode uint32) (vfs.Inode, defs.Err_t) {
	return nil, -defs.EROFS
}

func (n *Node) Unlink(name ustr.Ustr) defs.Err_t { return -defs.EROFS }

func (n *Node) Truncate(size int64) defs.Err_t { return -defs.EROFS }

// writeKB appends one /proc/meminfo line, the value given in bytes and
// printed in the file's native kB unit.
func writeKB(buf *bytes.Buffer, label string, valueBytes float64) {
	buf.WriteString(label)
	buf.WriteString(":")
	for len(label)+1 < 16 {
		buf.WriteByte(' ')
		label += " "
	}
	buf.WriteString(strconv.FormatUint(uint64(valueBytes/1024), 10))
	buf.WriteString(" kB\n")
}

// ftoa3 formats a float with the two-decimal precision /proc/loadavg and
// /proc/uptime use.
func ftoa3(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
