package notify

import (
	htmltemplate "html/template"
	"strconv"
	texttemplate "text/template"
	"time"

	goOTP "github.com/MrEthical07/goOTP"
)

type codeView struct {
	AppName   string
	Code      string
	ExpiresIn string
}

type noticeView struct {
	AppName string
}

type mailTemplate struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

var codeTemplates = map[goOTP.Purpose]mailTemplate{
	goOTP.PurposePasswordReset: {
		subject: "Password Reset Code - %s",
		text: texttemplate.Must(texttemplate.New("reset.txt").Parse(
			`You are receiving this email because a password reset was requested for your {{.AppName}} account.

Your code is: {{.Code}}

This code expires in {{.ExpiresIn}}. If you did not request a reset, ignore this email.
`)),
		html: htmltemplate.Must(htmltemplate.New("reset.html").Parse(
			`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Password Reset Request</h2>
  <p>You are receiving this email because a password reset was requested for your {{.AppName}} account.</p>
  <p>Your code is:</p>
  <div style="background-color: #f8f9fa; border: 1px solid #dee2e6; padding: 15px; text-align: center; font-size: 24px; font-weight: bold; letter-spacing: 5px; margin: 20px 0;">{{.Code}}</div>
  <p><strong>This code expires in {{.ExpiresIn}}.</strong></p>
  <p>If you did not request a reset, ignore this email.</p>
</div>
`)),
	},
	goOTP.PurposeRegistration: {
		subject: "Email Verification Code - %s",
		text: texttemplate.Must(texttemplate.New("registration.txt").Parse(
			`Your code for email verification is: {{.Code}}

This code expires in {{.ExpiresIn}}. If you did not sign up for {{.AppName}}, ignore this email.
`)),
		html: htmltemplate.Must(htmltemplate.New("registration.html").Parse(
			`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #764ba2;">Email Verification</h2>
  <p>Your code for email verification is:</p>
  <h1 style="font-size: 32px; color: #667eea; text-align: center; letter-spacing: 10px; margin: 20px 0;">{{.Code}}</h1>
  <p>This code expires in {{.ExpiresIn}}.</p>
  <p>If you did not sign up for {{.AppName}}, ignore this email.</p>
</div>
`)),
	},
}

var credentialChanged = mailTemplate{
	subject: "Password Reset Successful - %s",
	text: texttemplate.Must(texttemplate.New("changed.txt").Parse(
		`Your {{.AppName}} password has been reset. If you did not make this change, contact support immediately.
`)),
	html: htmltemplate.Must(htmltemplate.New("changed.html").Parse(
		`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Password Reset Successful</h2>
  <p>Your {{.AppName}} password has been reset.</p>
  <p>If you did not make this change, contact support immediately.</p>
</div>
`)),
}

// humanDuration renders a TTL the way the emails phrase it ("10 minutes").
func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a moment"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	case d < time.Minute:
		return plural(int(d/time.Second), "second")
	default:
		// Rounded down so the email never promises more time than is left.
		return plural(int(d/time.Minute), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
