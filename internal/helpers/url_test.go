package helpers

import (
	"testing"
)

func TestLinkKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "defaults https and cleans path",
			in:   "Example.com/news/../tech/latest",
			want: "https://example.com/tech/latest",
		},
		{
			name: "removes default port query and fragment",
			in:   "http://News.Example.com:80/article?id=123&utm_source=rss#section",
			want: "http://news.example.com/article",
		},
		{
			name: "keeps non default port",
			in:   "https://example.com:8443/a/",
			want: "https://example.com:8443/a",
		},
		{
			name: "handles schemeless url with double slash",
			in:   "//blog.example.com/post/42?utm_medium=email",
			want: "https://blog.example.com/post/42",
		},
		{
			name: "normalises repeated slashes",
			in:   "https://example.com//a//b///c",
			want: "https://example.com/a/b/c",
		},
		{
			name: "root path collapses",
			in:   "HTTPS://EXAMPLE.COM/",
			want: "https://example.com",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := LinkKey(tt.in)
			if err != nil {
				t.Fatalf("LinkKey() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("LinkKey() got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLinkKeyErrors(t *testing.T) {
	t.Parallel()
	if _, err := LinkKey(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
	if _, err := LinkKey(":///invalid"); err == nil {
		t.Fatalf("expected error for malformed url")
	}
}

func TestHost(t *testing.T) {
	t.Parallel()
	if got := Host("https://WWW.Reuters.com:443/world"); got != "www.reuters.com" {
		t.Fatalf("Host() got %q", got)
	}
	if got := Host(""); got != "" {
		t.Fatalf("expected empty host, got %q", got)
	}
}
