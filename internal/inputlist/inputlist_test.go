package inputlist

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestReadPlain(t *testing.T) {
	path := writeTemp(t, "ids.txt", "item1\n# a comment\n\nitem2\nitem1\n")
	ids, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"item1", "item2", "item1"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Read() = %v, want %v", ids, want)
	}
}

func TestReadDelimitedCSV(t *testing.T) {
	path := writeTemp(t, "ids.csv", "identifier,title\nitem1,Foo\nitem2,Bar\n")
	ids, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"item1", "item2"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Read() = %v, want %v", ids, want)
	}
}

func TestReadDelimitedTabSeparatedReorderedColumn(t *testing.T) {
	path := writeTemp(t, "ids.tsv", "title\tidentifier\nFoo\titem1\nBar\titem2\n")
	ids, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"item1", "item2"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Read() = %v, want %v", ids, want)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
