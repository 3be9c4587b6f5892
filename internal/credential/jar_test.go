package credential

import (
	"os"
	"path/filepath"
	"testing"

	"vod-curator/internal/model"
)

func writeJar(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("# Netscape HTTP Cookie File\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCurrentRotatesLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	writeJar(t, dir, "a.txt")
	writeJar(t, dir, "b.txt")

	p, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	first, ok := p.Current(model.ChannelAuthenticated)
	if !ok || first != "a.txt" {
		t.Fatalf("first = %q ok=%t, want a.txt", first, ok)
	}
	second, ok := p.Current(model.ChannelAuthenticated)
	if !ok || second != "b.txt" {
		t.Fatalf("second = %q ok=%t, want b.txt", second, ok)
	}
	third, ok := p.Current(model.ChannelAuthenticated)
	if !ok || third != "a.txt" {
		t.Fatalf("third = %q ok=%t, want rotation back to a.txt", third, ok)
	}
}

func TestOpenChannelIsAlwaysAnonymous(t *testing.T) {
	dir := t.TempDir()
	writeJar(t, dir, "a.txt")
	p, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Current(model.ChannelOpen); ok {
		t.Fatal("open channel must never get a credential")
	}
}

func TestInvalidateBansAtThreshold(t *testing.T) {
	dir := t.TempDir()
	writeJar(t, dir, "a.txt")
	writeJar(t, dir, "b.txt")

	p, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	p.SetFailureThreshold(2)

	p.Invalidate("a.txt")
	if jars := p.Jars(); jars[0].Banned {
		t.Fatal("one failure below threshold must not ban")
	}
	p.Invalidate("a.txt")

	for i := 0; i < 4; i++ {
		h, ok := p.Current(model.ChannelAuthenticated)
		if !ok || h != "b.txt" {
			t.Fatalf("banned jar served: got %q ok=%t", h, ok)
		}
	}

	p.Invalidate("b.txt")
	p.Invalidate("b.txt")
	if _, ok := p.Current(model.ChannelAuthenticated); ok {
		t.Fatal("all jars banned, Current must report anonymous")
	}
}

func TestPoolStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	writeJar(t, dir, "a.txt")

	p, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	p.SetFailureThreshold(1)
	p.Invalidate("a.txt")

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	jars := reopened.Jars()
	if len(jars) != 1 || !jars[0].Banned || jars[0].Failures != 1 {
		t.Fatalf("reopened pool lost state: %+v", jars)
	}
}

func TestMissingCookiesDirServesAnonymous(t *testing.T) {
	p, err := Open(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Current(model.ChannelAuthenticated); ok {
		t.Fatal("no jars, no credential")
	}
}
