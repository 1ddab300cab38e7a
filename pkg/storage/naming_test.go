package storage

import (
	"testing"
	"time"
)

func TestFilename(t *testing.T) {
	createdAt := time.Date(2023, 5, 1, 12, 30, 45, 0, time.UTC)

	got := Filename(createdAt, "alice", "1653000000000000000", "3_1653001", "jpg")
	want := "2023-05-01T12:30:45Z alice 1653000000000000000 3_1653001.jpg"
	if got != want {
		t.Errorf("Filename() = %q, want %q", got, want)
	}
}

func TestFilenameDefaultExtension(t *testing.T) {
	createdAt := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	got := Filename(createdAt, "alice", "t1", "3_1", "")
	if got != "2023-05-01T12:00:00Z alice t1 3_1.jpg" {
		t.Errorf("unexpected filename %q", got)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		url         string
		want        string
	}{
		{"jpeg content type", "image/jpeg", "", "jpg"},
		{"png content type", "image/png", "https://pbs.example/x.bin", "png"},
		{"mp4 content type", "video/mp4", "", "mp4"},
		{"content type with charset", "image/gif; charset=binary", "", "gif"},
		{"format query param", "", "https://pbs.example/card?format=png&name=orig", "png"},
		{"url path extension", "", "https://video.example/clip.mp4", "mp4"},
		{"content type wins over url", "image/webp", "https://pbs.example/x.png", "webp"},
		{"unknown content type falls to url", "application/octet-stream", "https://pbs.example/x.gif", "gif"},
		{"nothing known", "", "https://pbs.example/noext", "jpg"},
		{"empty everything", "", "", "jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtensionFor(tt.contentType, tt.url); got != tt.want {
				t.Errorf("ExtensionFor(%q, %q) = %q, want %q", tt.contentType, tt.url, got, tt.want)
			}
		})
	}
}

func TestMediaKeyFromFilename(t *testing.T) {
	tests := []struct {
		name string
		file string
		want string
	}{
		{"standard", "2023-05-01T12:30:45Z alice 165300 3_1653001.jpg", "3_1653001"},
		{"card key", "2023-05-01T12:30:45Z alice 165300 card_deadbeef01234567.png", "card_deadbeef01234567"},
		{"too few fields", "random.jpg", ""},
		{"no extension", "2023-05-01T12:30:45Z alice 165300 3_1", "3_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mediaKeyFromFilename(tt.file); got != tt.want {
				t.Errorf("mediaKeyFromFilename(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}
