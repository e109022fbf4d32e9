package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
)

const TypeEmail = "email"

type SMTPDefaults struct {
	Server string
	Port   int
	From   string
}

type emailConfig struct {
	SMTPServer string   `json:"smtp_server"`
	SMTPPort   int      `json:"smtp_port"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	From       string   `json:"from"`
	ToEmail    string   `json:"to_email"`
	Recipients []string `json:"recipients"`
}

type Email struct {
	Addr     string
	Host     string
	Username string
	Password string
	From     string
	To       []string
	SendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var bodyTmpl = template.Must(template.New("body").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; color: #333;">
<h2>{{.Subject}}</h2>
<table style="border-collapse: collapse;">
<tr><th align="left">Host</th><td>{{.Hostname}} ({{.Alert.HostID}})</td></tr>
<tr><th align="left">Metric</th><td>{{.Alert.Metric}}</td></tr>
<tr><th align="left">Value</th><td>{{printf "%.2f" .Alert.ObservedValue}}%</td></tr>
<tr><th align="left">Threshold</th><td>{{printf "%.2f" .Alert.LimitValue}}%</td></tr>
<tr><th align="left">Time</th><td>{{.Alert.Timestamp.UTC.Format "2006-01-02 15:04:05"}} UTC</td></tr>
</table>
<pre>{{.Text}}</pre>
</body>
</html>
`))

func EmailFromConfig(raw json.RawMessage, d SMTPDefaults) (*Email, error) {
	var c emailConfig
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse email config: %w", err)
	}
	if c.SMTPServer == "" {
		c.SMTPServer = d.Server
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = d.Port
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.From == "" {
		c.From = d.From
	}
	if c.From == "" {
		c.From = c.Username
	}
	to := append([]string{}, c.Recipients...)
	for _, addr := range strings.Split(c.ToEmail, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	switch {
	case c.SMTPServer == "":
		return nil, fmt.Errorf("email needs smtp_server")
	case c.From == "":
		return nil, fmt.Errorf("email needs from or username")
	case len(to) == 0:
		return nil, fmt.Errorf("email needs to_email or recipients")
	}
	return &Email{
		Addr:     c.SMTPServer + ":" + strconv.Itoa(c.SMTPPort),
		Host:     c.SMTPServer,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		To:       to,
		SendMail: smtp.SendMail,
	}, nil
}

func (e *Email) Name() string { return TypeEmail }

func (e *Email) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var body bytes.Buffer
	if err := bodyTmpl.Execute(&body, msg); err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	header := map[string]string{
		"From":         e.From,
		"To":           strings.Join(e.To, ", "),
		"Subject":      msg.Subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var raw bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&raw, "%s: %s\r\n", k, header[k])
	}
	raw.WriteString("\r\n")
	raw.Write(body.Bytes())

	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	if err := e.SendMail(e.Addr, auth, e.From, e.To, raw.Bytes()); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
