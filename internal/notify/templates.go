package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"time"
)

const (
	KindLockout   = "lockout"
	KindResetCode = "reset_code"
)

var (
	lockoutTemplate = template.Must(template.New("lockout").Parse(`<!DOCTYPE html>
<html><body>
<p>Hello {{.Name}},</p>
<p>Your portal account <strong>{{.Username}}</strong> has been locked after {{.Attempts}} unsuccessful sign-in attempts.</p>
<p>Please contact your portal administrator to restore access.{{if .SupportURL}} You can reach support at <a href="{{.SupportURL}}">{{.SupportURL}}</a>.{{end}}</p>
<p>If you did not try to sign in, someone else may be trying to access your account.</p>
</body></html>`))

	resetCodeTemplate = template.Must(template.New("reset_code").Parse(`<!DOCTYPE html>
<html><body>
<p>Hello {{.Name}},</p>
<p>Use the following code to reset your portal password:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code expires in {{.Minutes}} minutes and can be used once.</p>
<p>If you did not request a password reset you can ignore this email.</p>
</body></html>`))
)

type LockoutData struct {
	Name       string
	Username   string
	Attempts   int
	SupportURL string
}

type ResetCodeData struct {
	Name string
	Code string
	TTL  time.Duration
}

func LockoutEmail(to string, data LockoutData) (Message, error) {
	var buf bytes.Buffer
	if err := lockoutTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render lockout email: %w", err)
	}
	return Message{Kind: KindLockout, To: to, Subject: "Your portal account has been locked", HTML: buf.String()}, nil
}

func ResetCodeEmail(to string, data ResetCodeData) (Message, error) {
	var buf bytes.Buffer
	err := resetCodeTemplate.Execute(&buf, struct {
		Name    string
		Code    string
		Minutes int
	}{data.Name, data.Code, int(math.Ceil(data.TTL.Minutes()))})
	if err != nil {
		return Message{}, fmt.Errorf("render reset code email: %w", err)
	}
	return Message{Kind: KindResetCode, To: to, Subject: "Your portal password reset code", HTML: buf.String()}, nil
}
