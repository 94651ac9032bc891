package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	kind, id, err := parseScope([]string{"group", "g1"})
	require.NoError(t, err)
	assert.Equal(t, models.ScopeGroup, kind)
	assert.Equal(t, "g1", id)

	kind, id, err = parseScope([]string{"community"})
	require.NoError(t, err)
	assert.Equal(t, models.ScopeCommunity, kind)
	assert.Empty(t, id)

	_, _, err = parseScope([]string{"support"})
	assert.Error(t, err)

	_, _, err = parseScope([]string{"dm", "x"})
	assert.Error(t, err)
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0:00", formatElapsed(0))
	assert.Equal(t, "0:07", formatElapsed(6600*time.Millisecond))
	assert.Equal(t, "2:05", formatElapsed(125*time.Second))
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "talkie dev\n", out.String())
}
