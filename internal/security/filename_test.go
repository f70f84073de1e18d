package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"", "unknown"},
		{"scan-01.pcd", "scan-01.pcd"},
		{"../../etc/passwd", "etc_passwd"},
		{"a  b\t\nc", "a_b_c"},
		{"__hidden__", "hidden"},
		{"...", "unknown"},
		{"résumé", "r_sum"},
		{`a"b;c`, "a_b_c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	t.Parallel()
	got := SanitizeFilename(strings.Repeat("x", 500))
	assert.Len(t, got, maxFilenameLen)
}

func TestDownloadName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "scan_1-convergence.png", DownloadName("/data/scan 1.pcd", "-convergence.png"))
	assert.Equal(t, "unknown.png", DownloadName("", ".png"))
	assert.Equal(t, "cloud.png", DownloadName("cloud", ".png"))
}
