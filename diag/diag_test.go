package diag

import (
	"bytes"
	"testing"

	"mem"
	"proc"
	"ustr"
)

func TestRecordAccumulatesAtSameSite(t *testing.T) {
	r := MkRecorder("pages")
	record3 := func() { r.Record("alloc", 3) }
	record3()
	record3()
	if got := r.Total(); got != 6 {
		t.Fatalf("Total() = %d, want 6", got)
	}
}

func TestRecordSeparatesDistinctSites(t *testing.T) {
	r := MkRecorder("pages")
	r.Record("alloc", 1)
	func() { r.Record("alloc", 1) }()
	if n := len(r.sites.Elems()); n != 2 {
		t.Fatalf("distinct sites = %d, want 2", n)
	}
}

func TestProfileHasOneSamplePerSite(t *testing.T) {
	r := MkRecorder("pages")
	r.Record("alloc", 5)
	p := r.Profile()
	if len(p.Sample) != 1 {
		t.Fatalf("len(Sample) = %d, want 1", len(p.Sample))
	}
	if p.Sample[0].Value[0] != 5 {
		t.Fatalf("Sample value = %d, want 5", p.Sample[0].Value[0])
	}
}

func TestDumpProducesNonEmptyOutput(t *testing.T) {
	r := MkRecorder("pages")
	r.Record("alloc", 1)
	var buf bytes.Buffer
	if err := r.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("Dump wrote no bytes")
	}
}

func TestSampleCoremapRecordsUsedPages(t *testing.T) {
	r := MkRecorder("pages")
	cm := mem.Bootstrap(0, 4096*256)
	cm.AllocKpages(4)
	SampleCoremap(r, cm)
	if got := r.Total(); got != 4 {
		t.Fatalf("Total() = %d, want 4", got)
	}
}

func TestSampleProcTableRecordsLiveCount(t *testing.T) {
	r := MkRecorder("procs")
	pt := proc.MkProcTable(1, 16)
	cm := mem.Bootstrap(0, 4096*256)
	_, err := proc.MkRootProcess(pt, cm, ustr.Ustr("init"), nil)
	_ = err
	SampleProcTable(r, pt)
	if got := r.Total(); got != 1 {
		t.Fatalf("Total() = %d, want 1 (one live process, no forks counted)", got)
	}
}
