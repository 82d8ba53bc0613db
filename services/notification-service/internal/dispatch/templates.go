package dispatch

import (
	"strings"
	"text/template"
)

const (
	TemplateOTP       = "registration_otp"
	TemplateConfirmed = "appointment_confirmed"
	TemplateCanceled  = "appointment_canceled"
	TemplateReminder  = "appointment_reminder"
)

// view is the data every template renders from.
type view struct {
	Name     string
	OTP      string
	Expires  string
	Doctor   string
	Hospital string
	When     string
	Amount   string
	Method   string
	Lead     string
}

type content struct {
	subject *template.Template
	email   *template.Template
	sms     *template.Template
}

func newContent(name, subject, email, sms string) content {
	return content{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		email:   template.Must(template.New(name + ".email").Parse(email)),
		sms:     template.Must(template.New(name + ".sms").Parse(sms)),
	}
}

var templates = map[string]content{
	TemplateOTP: newContent(TemplateOTP,
		`Your Upachar verification code`,
		"Hello {{.Name}},\n\nYour verification code is {{.OTP}}. It expires at {{.Expires}}.\n\nIf you did not sign up for Upachar, ignore this email.\n",
		`Upachar code: {{.OTP}} (expires {{.Expires}})`),
	TemplateConfirmed: newContent(TemplateConfirmed,
		`Appointment confirmed with {{.Doctor}}`,
		"Hello {{.Name}},\n\nYour appointment with {{.Doctor}} at {{.Hospital}} on {{.When}} is confirmed.\nWe received NPR {{.Amount}}{{if .Method}} via {{.Method}}{{end}}.\n",
		`Upachar: appointment with {{.Doctor}} on {{.When}} confirmed.`),
	TemplateCanceled: newContent(TemplateCanceled,
		`Appointment canceled`,
		"Hello {{.Name}},\n\nYour appointment with {{.Doctor}} at {{.Hospital}} on {{.When}} has been canceled.\n",
		`Upachar: appointment with {{.Doctor}} on {{.When}} was canceled.`),
	TemplateReminder: newContent(TemplateReminder,
		`Reminder: your appointment with {{.Doctor}} is {{.Lead}}`,
		"Hello {{.Name}},\n\nThis is a reminder that your appointment with {{.Doctor}} at {{.Hospital}} is on {{.When}}.\n",
		`Upachar reminder: {{.Doctor}} at {{.Hospital}}, {{.When}}.`),
}

func execute(t *template.Template, v view) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}
