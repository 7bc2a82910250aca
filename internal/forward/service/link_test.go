package service

import (
	"testing"
)

func TestParseMessageLink(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		want    int64
		wantErr bool
	}{
		{
			name: "public channel link",
			link: "https://t.me/somechannel/123",
			want: 123,
		},
		{
			name: "private channel link",
			link: "https://t.me/c/1234567890/4567",
			want: 4567,
		},
		{
			name: "trailing slash",
			link: "https://t.me/somechannel/99/",
			want: 99,
		},
		{
			name: "surrounding whitespace",
			link: "  https://t.me/somechannel/7  ",
			want: 7,
		},
		{
			name:    "empty",
			link:    "",
			wantErr: true,
		},
		{
			name:    "no path segments",
			link:    "notalink",
			wantErr: true,
		},
		{
			name:    "non numeric id",
			link:    "https://t.me/somechannel/abc",
			wantErr: true,
		},
		{
			name:    "zero id",
			link:    "https://t.me/somechannel/0",
			wantErr: true,
		},
		{
			name:    "negative id",
			link:    "https://t.me/somechannel/-5",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessageLink(tt.link)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMessageLink(%q) expected error, got %d", tt.link, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMessageLink(%q) unexpected error: %v", tt.link, err)
			}
			if got != tt.want {
				t.Fatalf("ParseMessageLink(%q) = %d, want %d", tt.link, got, tt.want)
			}
		})
	}
}
