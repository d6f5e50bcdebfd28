package manifest

import "testing"

func TestApplyAntiClutterDefaults(t *testing.T) {
	files := []RemoteFile{
		{Name: "book.pdf", Size: 100},
		{Name: "book_meta.xml", Size: 10},
		{Name: "book_files.xml", Size: 10},
		{Name: "book_thumb.jpg", Size: 10},
	}
	out, err := Apply(FilterConfig{}, files)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out) != 1 || out[0].Name != "book.pdf" {
		t.Errorf("expected only book.pdf to survive, got %+v", out)
	}
}

func TestApplyMetadataOnly(t *testing.T) {
	files := []RemoteFile{
		{Name: "book.pdf", Size: 100},
		{Name: "book_meta.xml", Size: 10},
		{Name: "book.torrent", Size: 1},
	}
	out, err := Apply(FilterConfig{MetadataOnly: true}, files)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	var names []string
	for _, f := range out {
		names = append(names, f.Name)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 metadata files to survive, got %v", names)
	}
}

func TestApplyExtensionWhitelist(t *testing.T) {
	files := []RemoteFile{
		{Name: "a.pdf", Size: 1},
		{Name: "b.epub", Size: 1},
		{Name: "c.txt", Size: 1},
	}
	out, err := Apply(FilterConfig{ExtensionWhitelist: []string{"pdf", ".epub"}}, files)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("expected 2 files matching whitelist, got %d: %+v", len(out), out)
	}
}

func TestApplyNameRegex(t *testing.T) {
	files := []RemoteFile{
		{Name: "chapter1.pdf", Size: 1},
		{Name: "notes.txt", Size: 1},
	}
	out, err := Apply(FilterConfig{NameRegex: `^chapter`}, files)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out) != 1 || out[0].Name != "chapter1.pdf" {
		t.Errorf("expected only chapter1.pdf to survive, got %+v", out)
	}
}

func TestApplySanitizesFilenames(t *testing.T) {
	files := []RemoteFile{{Name: `weird<name>:file.pdf`, Size: 1}}
	out, err := Apply(FilterConfig{}, files)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out[0].Name != "weird_name__file.pdf" {
		t.Errorf("expected sanitized filename, got %q", out[0].Name)
	}
}

func TestApplyInvalidRegexErrors(t *testing.T) {
	_, err := Apply(FilterConfig{NameRegex: "("}, []RemoteFile{{Name: "a"}})
	if err == nil {
		t.Error("expected an error for an invalid name regex")
	}
}

func TestPriorityForSize(t *testing.T) {
	tests := []struct {
		size int64
		want int
	}{
		{0, PriorityStandard},
		{1024, PrioritySmall},
		{50 * 1024 * 1024, PriorityStandard},
		{200 * 1024 * 1024, PriorityLarge},
	}
	for _, tt := range tests {
		if got := PriorityForSize(tt.size); got != tt.want {
			t.Errorf("PriorityForSize(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}
