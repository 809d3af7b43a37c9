package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetCodeEmailRendersCodeAndMinutes(t *testing.T) {
	msg, err := ResetCodeEmail("alice@example.gov", ResetCodeData{Name: "Alice", Code: "042917", TTL: 15 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, KindResetCode, msg.Kind)
	assert.Equal(t, "alice@example.gov", msg.To)
	assert.Contains(t, msg.HTML, "042917")
	assert.Contains(t, msg.HTML, "15 minutes")
}

func TestLockoutEmailEscapesNames(t *testing.T) {
	msg, err := LockoutEmail("bob@example.gov", LockoutData{Name: "<script>", Username: "bob", Attempts: 5})
	require.NoError(t, err)
	assert.Equal(t, KindLockout, msg.Kind)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "5 unsuccessful")
	assert.False(t, strings.Contains(msg.HTML, "reach support"))
}

func TestLogSenderValidatesAndRedactsBody(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	s := NewLogSender(logger, false)
	assert.ErrorIs(t, s.Send(context.Background(), Message{Subject: "x"}), ErrInvalidMessage)
	require.NoError(t, s.Send(context.Background(), Message{Kind: KindResetCode, To: "a@example.gov", Subject: "x", HTML: "secret-123456"}))
	assert.NotContains(t, buf.String(), "secret-123456")

	buf.Reset()
	s = NewLogSender(logger, true)
	require.NoError(t, s.Send(context.Background(), Message{Kind: KindResetCode, To: "a@example.gov", Subject: "x", HTML: "code-654321"}))
	assert.Contains(t, buf.String(), "code-654321")
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.gov", Port: 587, From: "portal@example.gov", Username: "u", Password: "p", Timeout: time.Second})
	m, err := s.buildMessage(Message{To: "alice@example.gov", Subject: "hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Len(t, s.clientOptions(), 6)

	_, err = s.buildMessage(Message{To: "not an address", Subject: "hi"})
	assert.Error(t, err)
	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrInvalidMessage)
}
