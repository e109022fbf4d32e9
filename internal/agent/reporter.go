package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"netmaster/internal/collector"
)

const RequestTimeout = 15 * time.Second

type ErrorKind string

const (
	KindCollect ErrorKind = "collect"
	KindNetwork ErrorKind = "network"
	KindTimeout ErrorKind = "timeout"
	KindTLS     ErrorKind = "tls"
	KindAuth    ErrorKind = "auth"
	KindServer  ErrorKind = "server"
)

// Error is a classified failure of one collect-and-report cycle.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := "agent: " + string(e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (%d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the loop must stop without retrying.
func (e *Error) Fatal() bool { return e.Kind == KindAuth }

// Reporter posts reports to the collector with HTTP Basic auth.
type Reporter struct {
	URL      string
	Username string
	Password string
	HTTP     *http.Client
}

// NewReporter builds a reporter whose client skips certificate checks when
// verifyTLS is false, which self-signed collectors need.
func NewReporter(serverURL, username, password string, verifyTLS bool) *Reporter {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: !verifyTLS}
	return &Reporter{
		URL:      serverURL,
		Username: username,
		Password: password,
		HTTP:     &http.Client{Timeout: RequestTimeout, Transport: tr},
	}
}

func (r *Reporter) Send(ctx context.Context, rep collector.Report) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return &Error{Kind: KindCollect, Message: "encode report", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindNetwork, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.Username, r.Password)

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &Error{Kind: KindAuth, StatusCode: resp.StatusCode, Message: "check username and password"}
	default:
		return &Error{Kind: KindServer, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
	}
}

func classify(err error) error {
	var (
		unknownAuth x509.UnknownAuthorityError
		hostname    x509.HostnameError
		invalid     x509.CertificateInvalidError
		verify      *tls.CertificateVerificationError
		record      tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &unknownAuth), errors.As(err, &hostname), errors.As(err, &invalid), errors.As(err, &verify):
		return &Error{Kind: KindTLS, Message: "server certificate rejected; disable verification for self-signed certificates", Err: err}
	case errors.As(err, &record):
		return &Error{Kind: KindTLS, Message: "server does not speak TLS", Err: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Message: "cannot reach the server", Err: err}
}
