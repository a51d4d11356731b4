// Package klog provides a minimal, allocation-free logging formatter for use
// before (or without) an OS-backed console. It intentionally avoids the
// standard "fmt" and "log" packages: both assume reflection-driven
// formatting paths that require the allocator to be already configured,
// which cannot be assumed this early in bring-up.
package klog

import "io"

// maxNumBufSize bounds the scratch buffer used to format integers.
const maxNumBufSize = 24

var (
	errMissingArg = []byte("(MISSING)")
	errNoVerb     = []byte("%!(NOVERB)")
	trueValue     = []byte("true")
	falseValue    = []byte("false")

	// earlyBuffer captures output before SetSink is called.
	earlyBuffer earlyLog

	// sink is where Printf sends output once attached. Until then, output
	// accumulates in earlyBuffer.
	sink io.Writer
)

// SetSink attaches the console (or test buffer) that Printf writes to,
// flushing anything accumulated in the early ring buffer first.
func SetSink(w io.Writer) {
	sink = w
	if w != nil {
		io.Copy(w, &earlyBuffer)
	}
}

// Printf writes a formatted line to the currently attached Sink, or to the
// early ring buffer if none has been attached yet. Supported verbs: %s, %d,
// %x, %t. Unlike fmt.Printf this never allocates and never uses reflection.
func Printf(format string, args ...interface{}) {
	Fprintf(sink, format, args...)
}

// Fprintf behaves like Printf but writes to an explicit io.Writer (nil
// redirects to the early ring buffer).
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var out io.Writer = &earlyBuffer
	if w != nil {
		out = w
	}

	argIndex := 0
	i := 0

	for i < len(format) {
		c := format[i]

		if c != '%' {
			writeByte(out, c)
			i++
			continue
		}

		i++
		if i >= len(format) {
			out.Write(errNoVerb)
			break
		}

		switch format[i] {
		case '%':
			writeByte(out, '%')
		case 's':
			if argIndex >= len(args) {
				out.Write(errMissingArg)
				break
			}
			writeString(out, toString(args[argIndex]))
			argIndex++
		case 'd':
			if argIndex >= len(args) {
				out.Write(errMissingArg)
				break
			}
			writeInt(out, toInt64(args[argIndex]), 10, false)
			argIndex++
		case 'x':
			if argIndex >= len(args) {
				out.Write(errMissingArg)
				break
			}
			writeInt(out, toInt64(args[argIndex]), 16, true)
			argIndex++
		case 't':
			if argIndex >= len(args) {
				out.Write(errMissingArg)
				break
			}
			if b, ok := args[argIndex].(bool); ok && b {
				out.Write(trueValue)
			} else {
				out.Write(falseValue)
			}
			argIndex++
		default:
			out.Write(errNoVerb)
		}

		i++
	}
}

func writeByte(w io.Writer, b byte) {
	buf := [1]byte{b}
	w.Write(buf[:])
}

func writeString(w io.Writer, s string) {
	w.Write([]byte(s))
}

// writeInt formats v in the given base (10 or 16), without allocating a
// string: digits are assembled into a fixed scratch buffer back-to-front.
func writeInt(w io.Writer, v int64, base int, unsignedHex bool) {
	var buf [maxNumBufSize]byte
	pos := len(buf)

	neg := v < 0 && !unsignedHex
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}

	if u == 0 {
		pos--
		buf[pos] = '0'
	}

	for u > 0 {
		d := u % uint64(base)
		u /= uint64(base)

		pos--
		if d < 10 {
			buf[pos] = '0' + byte(d)
		} else {
			buf[pos] = 'a' + byte(d-10)
		}
	}

	if neg {
		pos--
		buf[pos] = '-'
	}

	w.Write(buf[pos:])
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return "(UNKNOWN)"
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case uintptr:
		return int64(t)
	default:
		return 0
	}
}
