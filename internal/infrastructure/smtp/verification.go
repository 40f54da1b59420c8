package smtp

import (
	"bytes"
	"context"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

// VerificationSubject is the subject line of the registration code email.
const VerificationSubject = "Verify Your AgriSense Account"

//go:embed templates/*
var templateFS embed.FS

var (
	verificationHTML = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/verification.html"))
	verificationText = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/verification.txt"))
)

type verificationData struct {
	FirstName string
	Code      string
	Minutes   int
	Year      int
}

// VerificationMailer renders and sends registration codes.
type VerificationMailer struct {
	mailer Mailer
}

func NewVerificationMailer(m Mailer) *VerificationMailer {
	return &VerificationMailer{mailer: m}
}

func (v *VerificationMailer) SendVerificationCode(ctx context.Context, to, firstName, code string, ttl time.Duration) error {
	data := verificationData{
		FirstName: firstName,
		Code:      code,
		Minutes:   int(ttl.Round(time.Minute) / time.Minute),
		Year:      time.Now().Year(),
	}
	var html, text bytes.Buffer
	if err := verificationHTML.Execute(&html, data); err != nil {
		return err
	}
	if err := verificationText.Execute(&text, data); err != nil {
		return err
	}
	return v.mailer.Send(ctx, Message{
		To:      to,
		Subject: VerificationSubject,
		Text:    text.String(),
		HTML:    html.String(),
	})
}
