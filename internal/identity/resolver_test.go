package identity

import "testing"

func TestResolve_YouTubeForms(t *testing.T) {
	r := New(YouTube)

	tests := []struct {
		name    string
		address string
		want    string
	}{
		{"watch query", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"watch query extra params", "https://youtube.com/watch?list=PL1&v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ"},
		{"mobile host", "https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"short link with time", "https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ"},
		{"shorts path", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"embed path", "https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"uppercase host", "https://WWW.YOUTUBE.COM/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.address)
			if !ok {
				t.Fatalf("Resolve(%q) not ok", tt.address)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.address, got, tt.want)
			}
		})
	}
}

func TestResolve_Rejects(t *testing.T) {
	r := New(YouTube)

	for _, address := range []string{
		"",
		"not a url",
		"https://www.youtube.com/",
		"https://www.youtube.com/feed/subscriptions",
		"https://www.youtube.com/watch",
		"https://www.youtube.com/watch?v=",
		"https://www.youtube.com/watch?v=bad%20id",
		"https://youtu.be/",
		"https://notyoutube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com.evil.example/watch?v=dQw4w9WgXcQ",
		"https://vimeo.com/12345",
		"/watch?v=dQw4w9WgXcQ",
	} {
		if key, ok := r.Resolve(address); ok {
			t.Errorf("Resolve(%q) = %q, want not ok", address, key)
		}
	}
}

func TestResolve_CanonicalFormsAgree(t *testing.T) {
	r := New(Platform{WatchHosts: []string{"video.example"}, ShortHosts: []string{"vid.example"}})

	pairs := [][2]string{
		{"https://video.example/watch?v=XYZ", "https://vid.example/XYZ"},
		{"https://video.example/watch?v=a_b-C", "https://vid.example/a_b-C?t=1"},
		{"https://video.example/shorts/XYZ", "https://video.example/watch?v=XYZ&feature=share"},
	}
	for _, p := range pairs {
		if !r.SameSubject(p[0], p[1]) {
			a, _ := r.Resolve(p[0])
			b, _ := r.Resolve(p[1])
			t.Errorf("SameSubject(%q, %q) = false (keys %q vs %q)", p[0], p[1], a, b)
		}
	}

	if r.SameSubject("https://video.example/watch?v=XYZ", "https://video.example/watch?v=ABC") {
		t.Error("different subjects must not match")
	}
	if r.SameSubject("https://video.example/", "https://video.example/") {
		t.Error("unresolvable addresses never match")
	}
}

func TestEligible(t *testing.T) {
	r := New(YouTube)
	if !r.Eligible("https://www.youtube.com/feed/trending") {
		t.Error("platform page should be eligible")
	}
	if r.Eligible("https://example.com/watch?v=abc") {
		t.Error("foreign host should not be eligible")
	}
}

func TestZeroResolver(t *testing.T) {
	var r Resolver
	if _, ok := r.Resolve("https://www.youtube.com/watch?v=abc"); ok {
		t.Error("zero Resolver should resolve nothing")
	}
}
