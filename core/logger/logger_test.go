package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	session := NewSessionID()

	log, err := New(&buf, "info", session)
	require.NoError(t, err)

	log.Debugw("hidden")
	log.Infow("job started", "job", 1, "pgid", 4242)
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "job started", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, session, entry["session"])
	assert.EqualValues(t, 4242, entry["pgid"])
}

func TestNewBadLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", NewSessionID())
	assert.Error(t, err)
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewSessionID())
}
