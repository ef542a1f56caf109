// Package stats provides cheap, compile-time-toggled counters for
// coremap allocation and process forks -- the same
// Counter_t/Cycles_t/Stats2String idiom the teacher uses for its
// network and scheduler counters, retargeted to this kernel core's
// own hot paths. diag reads these to build its pprof samples.
package stats

import "reflect"
import "sync/atomic"
import "strconv"
import "strings"
import "time"
import "unsafe"

const Stats = false
const Timing = false

/// Counter_t is a statistical counter, incremented only when Stats is
/// enabled.
type Counter_t int64

/// Cycles_t accumulates elapsed nanoseconds, recorded only when Timing
/// is enabled.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Now returns the current time in nanoseconds, for pairing with Add.
func Now() int64 {
	return time.Now().UnixNano()
}

/// Add adds elapsed nanoseconds since start to the counter.
func (c *Cycles_t) Add(start int64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, Now()-start)
	}
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}

	}
	return s + "\n"
}
