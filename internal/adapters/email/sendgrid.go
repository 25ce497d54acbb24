package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridSender sends emails via the SendGrid v3 mail API.
type SendGridSender struct {
	key  string
	from *sgmail.Email
	host string
}

// NewSendGridSender creates a sender; from may carry a display name ("Academy <noreply@x>").
// PRE: apiKey is a valid SendGrid key
func NewSendGridSender(apiKey, from string) *SendGridSender {
	return &SendGridSender{key: apiKey, from: parseAddress(from), host: sendgridHost}
}

func parseAddress(s string) *sgmail.Email {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return sgmail.NewEmail("", s)
	}
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func (s *SendGridSender) prepare(req SendRequest) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = req.Subject
	for _, to := range req.To {
		p.AddTos(parseAddress(to))
	}
	for k, v := range req.Headers {
		p.SetHeader(k, v)
	}

	m := sgmail.NewV3Mail()
	if req.From != "" {
		m.SetFrom(parseAddress(req.From))
	} else {
		m.SetFrom(s.from)
	}
	if req.ReplyTo != "" {
		m.SetReplyTo(parseAddress(req.ReplyTo))
	}
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/html", req.HTML))
	return m
}

// Send posts one message to SendGrid.
// PRE: req has at least one recipient and a subject
// POST: Returns the X-Message-Id SendGrid assigned, or an error for transport failures and 4xx/5xx answers
func (s *SendGridSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	r := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	r.Method = http.MethodPost
	r.Body = sgmail.GetRequestBody(s.prepare(req))

	res, err := sendgrid.API(r)
	if err != nil {
		slog.Error("sendgrid_send_failed", "error", err, "recipients", len(req.To))
		return SendResult{}, fmt.Errorf("sendgrid send failed: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		slog.Error("sendgrid_send_rejected", "status", res.StatusCode, "body", res.Body)
		return SendResult{}, fmt.Errorf("sendgrid send rejected: status %d", res.StatusCode)
	}

	var id string
	if ids := res.Headers["X-Message-Id"]; len(ids) > 0 {
		id = ids[0]
	}
	slog.Info("sendgrid_sent", "message_id", id, "recipients", len(req.To))
	return SendResult{MessageID: id, SentAt: time.Now()}, nil
}

// SendBatch sends each message individually; SendGrid personalizations would
// merge them into one message id.
func (s *SendGridSender) SendBatch(ctx context.Context, reqs []SendRequest) ([]SendResult, error) {
	results := make([]SendResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := s.Send(ctx, req)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
