// Package ustr implements the byte-slice path strings that flow through the
// VFS path walker without any allocation-heavy string conversions. Adapted
// from the teacher kernel's ustr/ustr.go.
package ustr

// Ustr is an immutable path or filename, stored as raw bytes so path
// components copied from user memory never need a UTF-8 validity check.
type Ustr []uint8

// Isdot reports whether the string is exactly ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string is exactly "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// IsAbsolute reports whether the path starts with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// Eq reports whether us and s contain identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// String renders the path for diagnostics.
func (us Ustr) String() string {
	return string(us)
}

// MkUstr returns an empty path.
func MkUstr() Ustr { return Ustr{} }

// MkUstrRoot returns the root path "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// MkUstrDot returns the current-directory path ".".
func MkUstrDot() Ustr { return Ustr(".") }

// DotDot is a reusable ".." path.
var DotDot = Ustr{'.', '.'}

// MkUstrSlice truncates buf at its first NUL byte, the convention used when
// a path arrives as a fixed-size buffer copied from user memory.
func MkUstrSlice(buf []uint8) Ustr {
	for i, c := range buf {
		if c == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

// Split breaks a path into its first component and the remainder, skipping
// any leading '/' so repeated calls walk one component at a time.
func (us Ustr) Split() (Ustr, Ustr) {
	i := 0
	for i < len(us) && us[i] == '/' {
		i++
	}
	us = us[i:]
	j := 0
	for j < len(us) && us[j] != '/' {
		j++
	}
	return us[:j], us[j:]
}

// SplitParent splits a path into its directory prefix and final component,
// used by creat-on-open to resolve the parent directory before creating the
// leaf name. A path with no '/' yields (".", path).
func SplitParent(path Ustr) (Ustr, Ustr) {
	end := len(path)
	for end > 0 && path[end-1] == '/' {
		end--
	}
	trimmed := path[:end]
	i := end - 1
	for i >= 0 && trimmed[i] != '/' {
		i--
	}
	if i < 0 {
		return MkUstrDot(), trimmed
	}
	if i == 0 {
		return MkUstrRoot(), trimmed[1:]
	}
	return trimmed[:i], trimmed[i+1:]
}
