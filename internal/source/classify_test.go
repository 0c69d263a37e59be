package source

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"include/foo/foo.h", Header},
		{"include/foo/foo.hpp", Header},
		{"src/detail/impl.hxx", Header},
		{"src/detail/impl.h++", Header},
		{"src/detail/impl.hh", Header},
		{"src/detail/body.inl", Header},
		{"src/detail/body.ipp", Header},
		{"src/foo.c", Source},
		{"src/foo.cpp", Source},
		{"src/foo.cxx", Source},
		{"src/foo.c++", Source},
		{"src/foo.cc", Source},
		{"src/foo.test.cpp", TestSource},
		{"src/deep/nested/bar.test.cc", TestSource},
		{"src/tool.main.cpp", AppSource},
		{"src/foo.test.h", Header}, // suffix convention applies to sources only
		{"src/README.md", Unknown},
		{"src/foo", Unknown},
		{"src/foo.o", Unknown},
		{"src/foo.CPP", Source}, // extension match is case-insensitive
	}
	for _, tt := range tests {
		if got := Classify(tt.path); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestClassifyIsStable(t *testing.T) {
	paths := []string{"a.h", "b.cpp", "c.test.cpp", "d.main.cpp", "e.txt"}
	for _, p := range paths {
		first := Classify(p)
		for i := 0; i < 3; i++ {
			if got := Classify(p); got != first {
				t.Fatalf("Classify(%q) changed between calls: %v then %v", p, first, got)
			}
		}
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{Header, "header"},
		{Source, "source"},
		{TestSource, "test_source"},
		{AppSource, "app_source"},
		{Unknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
