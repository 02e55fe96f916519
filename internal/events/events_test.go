package events

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(buf *bytes.Buffer) *Manager {
	return NewManager(zerolog.New(buf))
}

func TestManager_EmitLogsEventTypeAndModule(t *testing.T) {
	var buf bytes.Buffer
	m := newTestManager(&buf)

	m.Emit(RepriceApplied, "reprice", map[string]interface{}{"listing_id": "l1"})

	out := buf.String()
	assert.Contains(t, out, `"event_type":"REPRICE_APPLIED"`)
	assert.Contains(t, out, `"module":"reprice"`)
	assert.Contains(t, out, "l1")
}

func TestManager_EmitErrorWrapsErrorMessageAndContext(t *testing.T) {
	var buf bytes.Buffer
	m := newTestManager(&buf)

	m.EmitError("sync", errors.New("upstream timeout"), map[string]interface{}{"listing_id": "l1"})

	out := buf.String()
	assert.Contains(t, out, `"event_type":"ERROR_OCCURRED"`)
	assert.Contains(t, out, "upstream timeout")
}

func TestNewManager_ScopesLoggerToEventsComponent(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(zerolog.New(&buf))
	require.NotNil(t, m)

	m.Emit(SyncStarted, "sync", nil)
	assert.Contains(t, buf.String(), `"component":"events"`)
}

func TestManager_ErrorEventsLogAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	m := newTestManager(&buf)

	m.EmitError("scheduler", errors.New("task body failed"), nil)
	assert.Contains(t, buf.String(), `"level":"error"`)

	buf.Reset()
	m.Emit(SyncCompleted, "sync", nil)
	assert.Contains(t, buf.String(), `"level":"info"`)
}
