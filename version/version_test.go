package version

import "testing"

func TestBuildVersion(t *testing.T) {
	tests := []struct {
		build    string
		expected string
	}{
		{build: "", expected: "0.1.0"},
		{build: "rc1", expected: "0.1.0-rc1"},
		{build: "dev-Build-7", expected: "0.1.0-dev-Build-7"},
		{build: "bad build", expected: "0.1.0"},
		{build: "v1.2", expected: "0.1.0"},
	}
	for _, test := range tests {
		if got := buildVersion(test.build); got != test.expected {
			t.Errorf("build %q: got %q, want %q", test.build, got, test.expected)
		}
	}
	if UserAgent() != "selfd:"+Version() {
		t.Fatalf("unexpected user agent %q", UserAgent())
	}
}
