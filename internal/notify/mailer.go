// Package notify sends the intake confirmation email to the client, with the
// generated retainer agreement attached when available.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/richardslaw/clio-intake/internal/config"
	"github.com/richardslaw/clio-intake/internal/intake"
	"github.com/wneessen/go-mail"
)

// Mailer builds and sends client notifications. Implements intake.Notifier.
// When SMTP credentials are not configured it runs in preview mode: the
// content is generated and logged but nothing leaves the machine.
type Mailer struct {
	firm       config.FirmConfig
	scheduling config.SchedulingConfig
	smtp       config.SMTPConfig

	now func() time.Time
}

// NewMailer creates a mailer from the loaded configuration.
func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		firm:       cfg.Firm,
		scheduling: cfg.Scheduling,
		smtp:       cfg.SMTP,
		now:        time.Now,
	}
}

// SchedulingLink returns the consultation link appropriate for the season:
// March through August is in-office, September through February is virtual.
func (m *Mailer) SchedulingLink(at time.Time) (link, kind string) {
	month := at.Month()
	if month >= time.March && month <= time.August {
		return m.scheduling.InOfficeLink, "in-office"
	}
	return m.scheduling.VirtualLink, "virtual"
}

// Content generates the personalized subject and HTML body.
func (m *Mailer) Content(client intake.ClientInfo, facts *intake.AccidentFacts) (subject, htmlBody string) {
	link, kind := m.SchedulingLink(m.now())

	formattedDate := facts.DateOfAccident
	if d, err := facts.AccidentDate(); err == nil {
		formattedDate = d.Format("January 2, 2006")
	}

	firstName := client.FirstName
	if firstName == "" {
		firstName = client.Name
	}

	subject = fmt.Sprintf("%s - Your Consultation & Retainer Agreement", m.firm.Name)

	var body bytes.Buffer
	fmt.Fprintf(&body, `<!DOCTYPE html>
<html>
<body style="font-family: Georgia, serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="border-bottom: 2px solid #1a365d; padding-bottom: 15px; margin-bottom: 25px;">
		<p style="color: #1a365d; font-size: 24px; font-weight: bold; margin: 0;">%s</p>
		<p style="margin: 5px 0; color: #666;">%s</p>
	</div>
	<p>Dear %s,</p>
	<p>Thank you for reaching out to %s regarding the incident that occurred on <strong>%s</strong> at <strong>%s</strong>.</p>
	<div style="background-color: #f7fafc; padding: 15px; border-left: 4px solid #1a365d; margin: 20px 0;">
		<p style="margin: 0;">We understand that %s This must be a difficult time for you, and we want you to know that our team is here to help you navigate through this process.</p>
	</div>
	<p>After reviewing the details of your case, we have prepared a Retainer Agreement for your review. This agreement outlines the terms of our representation and ensures that we can begin working on your behalf as quickly as possible.</p>
	<p>To discuss your case in detail, please schedule a %s consultation at your earliest convenience:</p>
	<p style="text-align: center;">
		<a href="%s" style="display: inline-block; background-color: #1a365d; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; font-weight: bold;">Schedule Your Consultation</a>
	</p>
	<p>Time is of the essence in personal injury cases, and we are committed to providing you with the swift, professional representation you deserve.</p>
	<p>Warm regards,</p>
	<p><strong>%s</strong><br>Managing Attorney<br>%s</p>
	<div style="border-top: 1px solid #ddd; padding-top: 15px; margin-top: 25px; font-size: 12px; color: #666;">
		<p>%s | %s<br>This email and any attachments are confidential and intended solely for the use of the individual or entity to whom they are addressed.</p>
	</div>
</body>
</html>`,
		m.firm.Name, m.firm.Tagline,
		firstName,
		m.firm.Name, formattedDate, facts.AccidentLocation,
		strings.ToLower(string(facts.AccidentDescription[0]))+facts.AccidentDescription[1:]+".",
		kind,
		link,
		m.firm.AttorneyName, m.firm.Name,
		m.firm.Name, m.firm.Tagline,
	)

	return subject, body.String()
}

// Notify sends the confirmation email with the retainer PDF attached when
// present. A send failure is returned to the caller; committed remote state
// is never unwound because of it.
func (m *Mailer) Notify(ctx context.Context, client intake.ClientInfo, facts *intake.AccidentFacts, retainerPDF []byte) error {
	subject, htmlBody := m.Content(client, facts)

	if m.smtp.Username == "" || m.smtp.Password == "" {
		log.Printf("📧 SMTP not configured, preview only: to=%s subject=%q", client.Email, subject)
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(m.firm.FromName, m.firm.FromEmail); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(client.Email); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if len(retainerPDF) > 0 {
		filename := "Retainer_Agreement_" + strings.ReplaceAll(client.Name, " ", "_") + ".pdf"
		if err := msg.AttachReader(filename, bytes.NewReader(retainerPDF)); err != nil {
			return fmt.Errorf("attach retainer: %w", err)
		}
	}

	smtpClient, err := mail.NewClient(m.smtp.Host,
		mail.WithPort(m.smtp.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.smtp.Username),
		mail.WithPassword(m.smtp.Password),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := smtpClient.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", client.Email, err)
	}
	log.Printf("📧 Sent intake email to %s", client.Email)
	return nil
}
