package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnpack(t *testing.T) {
	var cmd, arg string
	assert.Equal(t, 2, Unpack(strings.SplitN("inspect output HDMI-A-1", " ", 2), &cmd, &arg))
	assert.Equal(t, "inspect", cmd)
	assert.Equal(t, "output HDMI-A-1", arg)

	cmd, arg = "", "untouched"
	assert.Equal(t, 1, Unpack([]string{"outputs"}, &cmd, &arg))
	assert.Equal(t, "outputs", cmd)
	assert.Equal(t, "untouched", arg)

	assert.Equal(t, 1, Unpack([]string{"a", "b", "c"}, &cmd))
	assert.Equal(t, "a", cmd)
}
