package forward

import (
	"testing"
)

func TestConfigAllowsKindFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filters[KindSticker] = false

	sticker := &Message{ID: 1, Kind: KindSticker, FileID: "st1"}
	if cfg.Allows(sticker) {
		t.Fatalf("expected sticker to be filtered out")
	}

	photo := &Message{ID: 2, Kind: KindPhoto, FileID: "ph1"}
	if !cfg.Allows(photo) {
		t.Fatalf("expected photo to pass filters")
	}
}

func TestConfigAllowsSizeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 1024

	small := &Message{Kind: KindDocument, FileID: "d1", FileName: "a.pdf", Size: 512}
	big := &Message{Kind: KindDocument, FileID: "d2", FileName: "b.pdf", Size: 4096}

	if !cfg.Allows(small) {
		t.Fatalf("expected small document to pass")
	}
	if cfg.Allows(big) {
		t.Fatalf("expected oversized document to be filtered out")
	}
}

func TestConfigAllowsExtensionBlocklist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extensions = []string{"exe", "APK"}

	tests := []struct {
		name     string
		fileName string
		want     bool
	}{
		{name: "blocked exe", fileName: "setup.exe", want: false},
		{name: "blocked apk case insensitive", fileName: "app.Apk", want: false},
		{name: "allowed pdf", fileName: "doc.pdf", want: true},
		{name: "no extension", fileName: "README", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{Kind: KindDocument, FileID: "f", FileName: tt.fileName}
			if got := cfg.Allows(msg); got != tt.want {
				t.Fatalf("Allows(%q) = %v, want %v", tt.fileName, got, tt.want)
			}
		})
	}
}

func TestConfigAllowsKeywordMatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keywords = []string{"report", "发布"}

	match := &Message{Kind: KindDocument, FileID: "f1", FileName: "monthly_REPORT.pdf"}
	if !cfg.Allows(match) {
		t.Fatalf("expected keyword match in filename to pass")
	}

	captionMatch := &Message{Kind: KindPhoto, FileID: "f2", Caption: "十月发布计划"}
	if !cfg.Allows(captionMatch) {
		t.Fatalf("expected keyword match in caption to pass")
	}

	noMatch := &Message{Kind: KindPhoto, FileID: "f3", Caption: "random"}
	if cfg.Allows(noMatch) {
		t.Fatalf("expected non-matching message to be filtered out")
	}
}

func TestRenderCaption(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Caption = "{filename} ({size})\n{caption}"

	msg := &Message{
		Kind:     KindDocument,
		FileName: "video.mp4",
		Size:     2 * 1024 * 1024,
		Caption:  "original",
	}

	got := cfg.RenderCaption(msg)
	want := "video.mp4 (2.00 MB)\noriginal"
	if got != want {
		t.Fatalf("unexpected caption: got %q, want %q", got, want)
	}

	cfg.Caption = ""
	if got := cfg.RenderCaption(msg); got != "original" {
		t.Fatalf("expected original caption to be kept, got %q", got)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{size: 512, want: "512.00 B"},
		{size: 2048, want: "2.00 KB"},
		{size: 5 * 1024 * 1024, want: "5.00 MB"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.size); got != tt.want {
			t.Fatalf("FormatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}
