package cos

import (
	"sort"
	"testing"
)

func TestNaturalLess(t *testing.T) {
	in := []string{"10.jpg", "2.jpg", "1.jpg", "01.jpg", "page10.png", "Page2.png", "page1.png"}
	sort.SliceStable(in, func(i, j int) bool { return NaturalLess(in[i], in[j]) })
	want := []string{"1.jpg", "01.jpg", "2.jpg", "10.jpg", "page1.png", "Page2.png", "page10.png"}
	for i := range want {
		if in[i] != want[i] {
			t.Fatalf("natural sort: got %v, want %v", in, want)
		}
	}
}

func TestNaturalLessCaseInsensitive(t *testing.T) {
	if NaturalLess("B.jpg", "a.jpg") {
		t.Error("case-insensitive: B should not sort before a")
	}
	if !NaturalLess("a.jpg", "B.jpg") {
		t.Error("case-insensitive: a should sort before B")
	}
}

func TestIsExcludedEntry(t *testing.T) {
	excluded := []string{
		"__MACOSX/01.jpg",
		".DS_Store",
		"series/.DS_Store",
		"Thumbs.db",
		"desktop.ini",
		"Desktop.ini",
		"vol/._01.jpg",
		"backup~",
		"notes.bak",
		"scratch.tmp",
		"x.TEMP",
		".git/config",
		"System Volume Information/x",
	}
	for _, p := range excluded {
		if !IsExcludedEntry(p) {
			t.Errorf("expected %q to be excluded", p)
		}
	}
	kept := []string{
		"01.jpg",
		"series/02.png",
		"Volume_01.mokuro",
		"DESKTOP.INI", // the set is case-sensitive where OS conventions dictate
		"macosx/01.jpg",
		"a~b/01.jpg", // segment ends in "b", not "~"
	}
	for _, p := range kept {
		if IsExcludedEntry(p) {
			t.Errorf("expected %q to be kept", p)
		}
	}
}

func TestExtAndStem(t *testing.T) {
	if Ext("a/b/c.JPG") != "jpg" {
		t.Error("Ext should lowercase")
	}
	if Ext("noext") != "" {
		t.Error("Ext of extensionless name should be empty")
	}
	if Stem("series/Volume_01.cbz") != "Volume_01" {
		t.Errorf("Stem = %q", Stem("series/Volume_01.cbz"))
	}
	if Stem(".hidden") != ".hidden" {
		t.Errorf("Stem of dotfile = %q", Stem(".hidden"))
	}
}

func TestClassPredicates(t *testing.T) {
	if !IsRasterImage("webp") || !IsRasterImage("JPG") || IsRasterImage("mokuro") {
		t.Error("IsRasterImage misclassifies")
	}
	if !IsNestedArchive("cbz") || !IsNestedArchive("7z") || IsNestedArchive("jpg") {
		t.Error("IsNestedArchive misclassifies")
	}
	if !IsThumbExt("avif") || IsThumbExt("bmp") {
		t.Error("IsThumbExt misclassifies")
	}
}
