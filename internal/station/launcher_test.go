package station

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "DISPLAY=:1", "HOME=/root"}
	got := mergeEnv(base, []string{"DISPLAY=:0", "KIOSK=1"})
	assert.Equal(t, []string{"PATH=/usr/bin", "DISPLAY=:0", "HOME=/root", "KIOSK=1"}, got)
	assert.Equal(t, base, mergeEnv(base, nil))
}
