package pathkey

import "testing"

func TestHash_Deterministic(t *testing.T) {
	d := NewDeriver(nil)

	got := d.Hash("a/b")
	if got != "a7e86136543b019d72468ceebf71fb8e" {
		t.Fatalf("Hash(a/b) = %s, want the md5 of the raw path", got)
	}
	if again := d.Hash("a/b"); again != got {
		t.Fatalf("Hash not stable: %s vs %s", got, again)
	}
}

func TestHash_StripsRegisteredServerPrefix(t *testing.T) {
	d := NewDeriver([]string{"//server/projects"})

	mounted := d.Hash("//server/projects/a/b")
	bare := d.Hash("a/b")
	if mounted != bare {
		t.Fatalf("registered mount not stripped: %s vs %s", mounted, bare)
	}
}

func TestHash_UnregisteredPrefixIsKept(t *testing.T) {
	d := NewDeriver([]string{"//server/projects"})

	other := d.Hash("//other/projects/a/b")
	bare := d.Hash("a/b")
	if other == bare {
		t.Fatal("unregistered mount must not be stripped")
	}
}

func TestHash_NormalizesBackslashes(t *testing.T) {
	d := NewDeriver([]string{"//server/projects"})

	win := d.Hash(`\\server\projects\a\b`)
	posix := d.Hash("//server/projects/a/b")
	if win != posix {
		t.Fatalf("backslash path hashes differently: %s vs %s", win, posix)
	}
}

func TestHash_OnlyFirstMatchingServerStripped(t *testing.T) {
	d := NewDeriver([]string{"//srv1", "//srv2"})

	// //srv2 appearing later in the path must not be stripped.
	a := d.Hash("//srv1/x///srv2/y")
	b := d.Hash("x///srv2/y")
	if a != b {
		t.Fatalf("leading registered prefix not stripped: %s vs %s", a, b)
	}
}

func TestHash_MemoizesByRawInput(t *testing.T) {
	d := NewDeriver(nil)
	_ = d.Hash("a/b")

	if _, ok := d.memo.Load("a/b"); !ok {
		t.Fatal("result not memoized by raw input")
	}
}
