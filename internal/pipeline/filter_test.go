package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnoreMatch(t *testing.T) {
	ig := NewIgnore([]string{".DS_Store", "*.tmp", "~$*"})

	assert.True(t, ig.Match("/a/.DS_Store"))
	assert.True(t, ig.Match("/a/b/file.tmp"))
	assert.True(t, ig.Match("/docs/~$report.docx"))
	assert.True(t, ig.Match("/cache.tmp/inner.txt"))
	assert.False(t, ig.Match("/a/report.txt"))

	var none *Ignore
	assert.False(t, none.Match("/a.tmp"))
}
