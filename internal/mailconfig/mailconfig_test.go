package mailconfig

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailportal/internal/config"
)

func TestFromConfigOverlaysDefaults(t *testing.T) {
	s := FromConfig(config.MailServer{
		Incoming: config.Endpoint{Server: "imap.example.org", Port: 993, SSL: "SSL/TLS"},
	})

	assert.Equal(t, "imap.example.org", s.Incoming.Server)
	assert.Equal(t, 993, s.Incoming.Port)
	assert.Equal(t, "SSL/TLS", s.Incoming.SSL)
	assert.Equal(t, "IMAP", s.Incoming.Protocol)
	assert.Equal(t, Default.Outgoing, s.Outgoing)
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default.Render(&buf))

	out := buf.String()
	assert.Contains(t, out, "[Incoming]")
	assert.Contains(t, out, "[Outgoing]")
	assert.Contains(t, out, "mail1.gnuweeb.org")
	assert.Contains(t, out, "143")
	assert.Contains(t, out, "587")
	assert.Contains(t, out, "STARTTLS")
}
