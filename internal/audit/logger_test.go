package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureContext(buf *bytes.Buffer) context.Context {
	logger := zerolog.New(buf)
	return logger.WithContext(context.Background())
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	ctx := captureContext(&buf)

	Log(ctx, Event{
		Type:          EventMatchFound,
		SessionCode:   "AB12",
		ParticipantID: "p1",
		Details:       map[string]interface{}{"candidateId": "c9", "yesVotes": 3},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session", entry["audit"])
	assert.Equal(t, "match_found", entry["eventType"])
	assert.Equal(t, "AB12", entry["sessionCode"])
	assert.Equal(t, "p1", entry["participantId"])
	assert.Equal(t, "c9", entry["candidateId"])
	assert.Equal(t, float64(3), entry["yesVotes"])
}

func TestLogFromRequest(t *testing.T) {
	var buf bytes.Buffer
	req := httptest.NewRequest("POST", "/v1/sessions", nil)
	req = req.WithContext(captureContext(&buf))
	req.Header.Set("X-Real-IP", "10.1.2.3")
	req.Header.Set("User-Agent", "test-agent")

	LogFromRequest(req, Event{Type: EventSessionCreate, SessionCode: "AB12"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "10.1.2.3", entry["ip"])
	assert.Equal(t, "test-agent", entry["userAgent"])
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1:1234", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
}
