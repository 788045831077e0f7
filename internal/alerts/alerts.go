// Package alerts delivers operational emails: low pool runway and org usage
// threshold notifications. Without SMTP configuration alerts are logged and
// skipped.
package alerts

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"strconv"

	"bursar/pkg/billing"
	"bursar/pkg/logging"
)

// AlertService handles alert email notifications
type AlertService struct {
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	fromEmail    string
	fromName     string
	alertEmail   string
	logger       logging.Logger
}

// AlertData represents data for alert templates
type AlertData struct {
	OrgID       string
	Percent     int
	UsedAmount  string
	LimitAmount string
	PoolBalance string
	RunwayDays  int64
}

// NewAlertService creates a new alert service instance
func NewAlertService(logger logging.Logger) *AlertService {
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if port == 0 {
		port = 587 // Default SMTP port
	}

	return &AlertService{
		smtpHost:     os.Getenv("SMTP_HOST"),
		smtpPort:     port,
		smtpUser:     os.Getenv("SMTP_USER"),
		smtpPassword: os.Getenv("SMTP_PASSWORD"),
		fromEmail:    os.Getenv("FROM_EMAIL"),
		fromName:     os.Getenv("FROM_NAME"),
		alertEmail:   os.Getenv("ALERT_EMAIL"),
		logger:       logger,
	}
}

// IsConfigured checks if the alert service is properly configured
func (as *AlertService) IsConfigured() bool {
	return as.smtpHost != "" && as.smtpUser != "" && as.smtpPassword != "" && as.fromEmail != "" && as.alertEmail != ""
}

// NotifyLowRunway alerts operators that the pool is running out of free-tier
// funding. Fired at most once per low-runway episode.
func (as *AlertService) NotifyLowRunway(balanceCents, runwayDays int64) {
	if !as.IsConfigured() {
		as.logger.WithFields(logging.Fields{
			"pool_balance": balanceCents,
			"runway_days":  runwayDays,
		}).Warn("Alert service not configured, skipping low runway alert")
		return
	}

	subject := fmt.Sprintf("Low Pool Runway - %d days remaining", runwayDays)
	data := AlertData{
		PoolBalance: billing.FormatCents(balanceCents),
		RunwayDays:  runwayDays,
	}

	go func() {
		body, err := as.renderTemplate("low_runway", data)
		if err != nil {
			as.logger.WithError(err).Error("Failed to render low runway template")
			return
		}
		_ = as.sendEmail(as.alertEmail, subject, body)
	}()
}

// NotifyUsageThreshold alerts operators that an org crossed a usage
// threshold within its billing period.
func (as *AlertService) NotifyUsageThreshold(orgID string, percent int, usedCents, limitCents int64) {
	if !as.IsConfigured() {
		as.logger.WithFields(logging.Fields{
			"org_id":  orgID,
			"percent": percent,
		}).Warn("Alert service not configured, skipping usage threshold alert")
		return
	}

	subject := fmt.Sprintf("Usage Alert - org %s crossed %d%% of its credit limit", orgID, percent)
	data := AlertData{
		OrgID:       orgID,
		Percent:     percent,
		UsedAmount:  billing.FormatCents(usedCents),
		LimitAmount: billing.FormatCents(limitCents),
	}

	go func() {
		body, err := as.renderTemplate("usage_threshold", data)
		if err != nil {
			as.logger.WithError(err).Error("Failed to render usage threshold template")
			return
		}
		_ = as.sendEmail(as.alertEmail, subject, body)
	}()
}

// sendEmail sends an email via SMTP
func (as *AlertService) sendEmail(to, subject, body string) error {
	auth := smtp.PlainAuth("", as.smtpUser, as.smtpPassword, as.smtpHost)

	fromHeader := as.fromEmail
	if as.fromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", as.fromName, as.fromEmail)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		fromHeader, to, subject, body)

	addr := fmt.Sprintf("%s:%d", as.smtpHost, as.smtpPort)
	err := smtp.SendMail(addr, auth, as.fromEmail, []string{to}, []byte(msg))

	if err != nil {
		as.logger.WithFields(logging.Fields{
			"error":   err.Error(),
			"to":      to,
			"subject": subject,
		}).Error("Failed to send alert email")
		return err
	}

	as.logger.WithFields(logging.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Alert email sent successfully")

	return nil
}

// renderTemplate renders an alert template with data
func (as *AlertService) renderTemplate(templateName string, data AlertData) (string, error) {
	templates := map[string]string{
		"low_runway": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Low Pool Runway</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #e74c3c;">Platform Pool Running Low</h2>

        <p>The platform funding pool is projected to run out of free-tier funding soon:</p>

        <div style="background-color: #f8d7da; padding: 20px; border-radius: 5px; margin: 20px 0; border-left: 4px solid #e74c3c;">
            <p><strong>Pool Balance:</strong> {{.PoolBalance}}</p>
            <p><strong>Runway:</strong> {{.RunwayDays}} days</p>
        </div>

        <p>Free-tier grants to new organizations will be rejected once the pool is exhausted.</p>
    </div>
</body>
</html>`,

		"usage_threshold": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Usage Threshold Crossed</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #f39c12;">Credit Usage Alert</h2>

        <p>Organization <strong>{{.OrgID}}</strong> has crossed {{.Percent}}% of its credit limit this billing period:</p>

        <div style="background-color: #fff3cd; padding: 20px; border-radius: 5px; margin: 20px 0; border-left: 4px solid #f39c12;">
            <p><strong>Used:</strong> {{.UsedAmount}}</p>
            <p><strong>Limit:</strong> {{.LimitAmount}}</p>
        </div>
    </div>
</body>
</html>`,
	}

	tmplStr, ok := templates[templateName]
	if !ok {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	tmpl, err := template.New(templateName).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
