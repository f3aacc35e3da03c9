// Package mailconfig holds the IMAP/SMTP settings users copy into their mail
// client.
package mailconfig

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"mailportal/internal/config"
)

type Settings struct {
	Incoming config.Endpoint
	Outgoing config.Endpoint
}

var Default = Settings{
	Incoming: config.Endpoint{
		Server:   "mail1.gnuweeb.org",
		Protocol: "IMAP",
		Port:     143,
		SSL:      "STARTTLS",
		Auth:     "Normal Password",
	},
	Outgoing: config.Endpoint{
		Server:   "mail1.gnuweeb.org",
		Protocol: "SMTP",
		Port:     587,
		SSL:      "STARTTLS",
		Auth:     "Normal Password",
	},
}

// FromConfig overlays the configured values on Default, field by field.
func FromConfig(cfg config.MailServer) Settings {
	return Settings{
		Incoming: merge(Default.Incoming, cfg.Incoming),
		Outgoing: merge(Default.Outgoing, cfg.Outgoing),
	}
}

func merge(base, over config.Endpoint) config.Endpoint {
	if over.Server != "" {
		base.Server = over.Server
	}
	if over.Protocol != "" {
		base.Protocol = over.Protocol
	}
	if over.Port != 0 {
		base.Port = over.Port
	}
	if over.SSL != "" {
		base.SSL = over.SSL
	}
	if over.Auth != "" {
		base.Auth = over.Auth
	}
	return base
}

type Row struct {
	Label string
	Value string
}

func Rows(e config.Endpoint) []Row {
	return []Row{
		{"Server", e.Server},
		{"Protocol", e.Protocol},
		{"Port", strconv.Itoa(e.Port)},
		{"SSL", e.SSL},
		{"Auth", e.Auth},
	}
}

// Render writes both sections as aligned label/value rows.
func (s Settings) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	sections := []struct {
		title string
		e     config.Endpoint
	}{
		{"Incoming", s.Incoming},
		{"Outgoing", s.Outgoing},
	}
	for i, sec := range sections {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "[%s]\n", sec.title)
		for _, r := range Rows(sec.e) {
			fmt.Fprintf(tw, "%s\t%s\n", r.Label, r.Value)
		}
	}

	return tw.Flush()
}
