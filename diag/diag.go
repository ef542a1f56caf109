// Package diag aggregates coremap and process-table activity into a
// pprof-format profile, the one diagnostic surface spec.md reserves a
// device id for (D_PROF in defs/device.go) without specifying a wire
// format. The teacher's own diagnostics are bare fmt.Printf call-stack
// dumps (caller.Callerdump); this generalizes that call-site idiom into
// samples a real profiling tool can consume, using the same
// lock-striped hashtable the teacher built for concurrent-read-heavy
// aggregation.
package diag

import (
	"io"
	"runtime"
	"sync/atomic"

	"github.com/google/pprof/profile"

	"hashtable"
	"mem"
	"proc"
)

/// site_t accumulates one call site's sample count. Stored once per
/// (kind, file, line) key and mutated in place through the hashtable's
/// pointer value, so concurrent Record calls never need a second Set.
type site_t struct {
	kind  string
	file  string
	line  int
	count int64
}

/// Recorder_t is a live sample aggregator: every Record call attributes
/// its delta of the named kind to its caller's source location.
type Recorder_t struct {
	sites *hashtable.Hashtable_t
	unit  string
}

/// MkRecorder allocates a recorder whose samples are reported in the
/// given unit (e.g. "pages", "forks").
func MkRecorder(unit string) *Recorder_t {
	return &Recorder_t{sites: hashtable.MkHash(64), unit: unit}
}

func siteKey(kind, file string, line int) string {
	return kind + "@" + file + ":" + itoa(line)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

/// Record attributes delta units of kind to the caller two frames up
/// (the direct caller of the instrumented operation, not of Record
/// itself).
func (r *Recorder_t) Record(kind string, delta int64) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file, line = "unknown", 0
	}
	key := siteKey(kind, file, line)
	v, ok := r.sites.Get(key)
	if !ok {
		s := &site_t{kind: kind, file: file, line: line}
		prev, inserted := r.sites.Set(key, s)
		if inserted {
			v = s
		} else {
			v = prev
		}
	}
	atomic.AddInt64(&v.(*site_t).count, delta)
}

/// Profile renders the recorder's current samples as a pprof profile,
/// one Function+Location per distinct call site and one Sample per
/// site carrying its accumulated count.
func (r *Recorder_t) Profile() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: r.unit, Unit: "count"}},
		PeriodType: &profile.ValueType{Type: r.unit, Unit: "count"},
		Period:     1,
	}

	var nextID uint64 = 1
	for _, pair := range r.sites.Elems() {
		s := pair.Value.(*site_t)
		fn := &profile.Function{
			ID:         nextID,
			Name:       s.kind,
			SystemName: s.kind,
			Filename:   s.file,
		}
		nextID++
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn, Line: int64(s.line)}},
		}
		nextID++
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{atomic.LoadInt64(&s.count)},
		})
	}
	return p
}

/// Dump writes the recorder's current profile to w in pprof's
/// gzip-compressed protobuf wire format.
func (r *Recorder_t) Dump(w io.Writer) error {
	return r.Profile().Write(w)
}

/// Total sums every recorded sample's count, for cheap sanity checks
/// without walking a full profile.Profile.
func (r *Recorder_t) Total() int64 {
	var sum int64
	for _, pair := range r.sites.Elems() {
		sum += atomic.LoadInt64(&pair.Value.(*site_t).count)
	}
	return sum
}

/// SampleCoremap attributes cm's currently-used frame count (in pages)
/// and its lifetime allocation counter to the caller's site, under the
/// "coremap.used" and "coremap.allocs" kinds.
func SampleCoremap(r *Recorder_t, cm *mem.Coremap_t) {
	r.Record("coremap.used", int64(cm.UsedBytes()/mem.PGSIZE))
	r.Record("coremap.allocs", cm.AllocCount())
}

/// SampleProcTable attributes pt's live process count and lifetime
/// fork counter to the caller's site, under the "proc.live" and
/// "proc.forks" kinds.
func SampleProcTable(r *Recorder_t, pt *proc.ProcTable_t) {
	r.Record("proc.live", int64(pt.Count()))
	r.Record("proc.forks", pt.ForkCount())
}
