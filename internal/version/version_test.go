package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldV, oldSHA := Version, GitSHA
	defer func() { Version, GitSHA = oldV, oldSHA }()

	Version, GitSHA = "1.2.3", "abc123"
	got := String("facestream")
	for _, want := range []string{"facestream 1.2.3", "abc123", runtime.Version()} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}
