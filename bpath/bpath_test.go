package bpath

import (
	"testing"

	"ustr"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/", "/"},
		{"/a/b/c", "/a/b/c"},
		{"/a/./b", "/a/b"},
		{"/a/b/../c", "/a/c"},
		{"/a/../../b", "/b"},
		{"/a//b", "/a/b"},
	}
	for _, c := range cases {
		got := Canonicalize(ustr.Ustr(c.in)).String()
		if got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
