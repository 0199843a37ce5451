package fp

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"plain", "v1", "v1"},
		{"trimmed", "  v1 ", "v1"},
		{"uuid", "3f2a7c1e-8d4b-4a55-9b0e-1c2d3e4f5a6b", "3f2a7c1e-8d4b-4a55-9b0e-1c2d3e4f5a6b"},
		{"slash hashed", "a/b", Fingerprint("a/b")},
		{"dotdot hashed", "..", Fingerprint("..")},
		{"hidden hashed", ".env", Fingerprint(".env")},
		{"space hashed", "my video", Fingerprint("my video")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Key(tc.id); got != tc.want {
				t.Fatalf("Key(%q) = %q want %q", tc.id, got, tc.want)
			}
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("a/b")
	if a != Fingerprint("a/b") {
		t.Fatalf("fingerprint not stable")
	}
	if len(a) != 64 {
		t.Fatalf("unexpected length %d", len(a))
	}
	if a == Fingerprint("a/c") {
		t.Fatalf("distinct ids share a fingerprint")
	}
}
