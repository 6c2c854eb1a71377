// Package boot implements the earliest-stage bring-up logic that runs
// before the scheduler starts: flattened-device-tree bootargs extraction,
// command-line tokenizing, and the PID-1 construction sequence (the design
//). Grounded directly on
// original_source/kernel/src/cmdline.rs's parse_bootargs (big-endian FDT
// token walk over FDT_BEGIN_NODE/FDT_PROP/FDT_END, locating /chosen's
// bootargs property) and its get_param/has_param helpers, carried into Go
// with explicit bounds checks in place of the original's raw pointer
// arithmetic.
package boot

import (
	"encoding/binary"
	"strings"

	"riscvkern/kernel/defs"
)

// FDT token values (devicetree-spec flattened format).
const (
	fdtMagic     = 0xd00dfeed
	fdtBeginNode = 0x1
	fdtEndNode   = 0x2
	fdtProp      = 0x3
	fdtEnd       = 0x9
)

// fdtHeader mirrors the 10 big-endian uint32 fields at the start of a
// flattened device tree blob.
type fdtHeader struct {
	magic            uint32
	totalsize        uint32
	offDtStruct      uint32
	offDtStrings     uint32
	offMemRsvmap     uint32
	version          uint32
	lastCompVersion  uint32
	bootCpuidPhys    uint32
	sizeDtStrings    uint32
	sizeDtStruct     uint32
}

func readHeader(blob []byte) (fdtHeader, defs.Err_t) {
	if len(blob) < 40 {
		return fdtHeader{}, -defs.EINVAL
	}
	be := binary.BigEndian
	h := fdtHeader{
		magic:           be.Uint32(blob[0:4]),
		totalsize:       be.Uint32(blob[4:8]),
		offDtStruct:     be.Uint32(blob[8:12]),
		offDtStrings:    be.Uint32(blob[12:16]),
		offMemRsvmap:    be.Uint32(blob[16:20]),
		version:         be.Uint32(blob[20:24]),
		lastCompVersion: be.Uint32(blob[24:28]),
		bootCpuidPhys:   be.Uint32(blob[28:32]),
		sizeDtStrings:   be.Uint32(blob[32:36]),
		sizeDtStruct:    be.Uint32(blob[36:40]),
	}
	if h.magic != fdtMagic {
		return fdtHeader{}, -defs.EINVAL
	}
	return h, 0
}

func align4(off int) int { return (off + 3) &^ 3 }

func cstr(buf []byte, start int) (string, int) {
	end := start
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[start:end]), end
}

// ParseBootargs walks blob's structure block looking for a node named
// "chosen" (or "chosen@...", per the unit-address suffix devicetree nodes
// may carry) and returns its "bootargs" property string. It returns
// (\"\", -ENOENT) when the blob is well-formed but carries no bootargs,
// matching original_source's None return rather than an error the caller
// must distinguish from a malformed blob.
func ParseBootargs(blob []byte) (string, defs.Err_t) {
	h, err := readHeader(blob)
	if err != 0 {
		return "", err
	}
	structStart := int(h.offDtStruct)
	structEnd := structStart + int(h.sizeDtStruct)
	stringsStart := int(h.offDtStrings)
	if structEnd > len(blob) || stringsStart > len(blob) {
		return "", -defs.EINVAL
	}

	pos := structStart
	depth := 0
	inChosen := false
	chosenDepth := -1

	for pos+4 <= structEnd {
		token := binary.BigEndian.Uint32(blob[pos : pos+4])
		pos += 4

		switch token {
		case fdtBeginNode:
			name, nameEnd := cstr(blob, pos)
			pos = align4(nameEnd + 1)
			depth++
			if name == "chosen" || strings.HasPrefix(name, "chosen@") {
				inChosen = true
				chosenDepth = depth
			}
		case fdtEndNode:
			if inChosen && depth == chosenDepth {
				inChosen = false
			}
			depth--
		case fdtProp:
			if pos+8 > structEnd {
				return "", -defs.EINVAL
			}
			propLen := int(binary.BigEndian.Uint32(blob[pos : pos+4]))
			nameOff := int(binary.BigEndian.Uint32(blob[pos+4 : pos+8]))
			pos += 8
			if inChosen {
				propName, _ := cstr(blob, stringsStart+nameOff)
				if propName == "bootargs" {
					if pos+propLen > len(blob) {
						return "", -defs.EINVAL
					}
					val, _ := cstr(blob[:pos+propLen], pos)
					return val, 0
				}
			}
			pos = align4(pos + propLen)
		case fdtEnd:
			return "", -defs.ENOENT
		default:
			return "", -defs.ENOENT
		}
	}
	return "", -defs.ENOENT
}

// DefaultCmdline is used when no device tree (or no bootargs property) is
// available, mirroring original_source's DEFAULT_CMDLINE.
const DefaultCmdline = "root=/dev/ram0 rw console=ttyS0 init=/shell"

// Cmdline is the parsed key=value / bare-flag command line.
type Cmdline struct {
	raw    string
	params map[string]string
	flags  map[string]bool
}

// ParseCmdline tokenizes a space-separated command line into key=value
// parameters and bare flags, per original_source's get_param/has_param.
func ParseCmdline(raw string) *Cmdline {
	c := &Cmdline{raw: raw, params: make(map[string]string), flags: make(map[string]bool)}
	for _, tok := range strings.Fields(raw) {
		if idx := strings.IndexByte(tok, '='); idx >= 0 {
			c.params[tok[:idx]] = tok[idx+1:]
		} else {
			c.flags[tok] = true
		}
	}
	return c
}

// Raw returns the original command-line string.
func (c *Cmdline) Raw() string { return c.raw }

// Get returns key's value and whether it was present.
func (c *Cmdline) Get(key string) (string, bool) {
	v, ok := c.params[key]
	return v, ok
}

// Has reports whether key appears as a bare flag (e.g. "debug", "quiet").
func (c *Cmdline) Has(key string) bool { return c.flags[key] }

// RootDevice returns the root= parameter, or "" if absent.
func (c *Cmdline) RootDevice() string {
	v, _ := c.Get("root")
	return v
}

// IsRootReadonly reports whether "ro" appears (and "rw" does not), per
// original_source's is_root_readonly.
func (c *Cmdline) IsRootReadonly() bool {
	return c.Has("ro") && !c.Has("rw")
}

// InitProgram returns the init= parameter, defaulting to "/sbin/init" when
// absent.
func (c *Cmdline) InitProgram() string {
	if v, ok := c.Get("init"); ok {
		return v
	}
	return "/sbin/init"
}

// IsDebugMode reports the "debug" bare flag.
func (c *Cmdline) IsDebugMode() bool { return c.Has("debug") }

// ConsoleDevice returns the console= parameter, or "" if absent.
func (c *Cmdline) ConsoleDevice() string {
	v, _ := c.Get("console")
	return v
}

// Load resolves the effective command line: parse dtb's /chosen/bootargs
// if dtb is non-empty, falling back to DefaultCmdline, matching
// original_source's init(dtb_ptr) decision tree.
func Load(dtb []byte) *Cmdline {
	if len(dtb) > 0 {
		if args, err := ParseBootargs(dtb); err == 0 {
			return ParseCmdline(args)
		}
	}
	return ParseCmdline(DefaultCmdline)
}
