package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"time"
)

type EmailService struct {
	apiKey      string
	from        string
	adminEmails []string
	templates   *template.Template
}

type EmailData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
}

// Template data structures
type WelcomeEmailData struct {
	Name string
}

type MagicLinkData struct {
	Name      string
	LoginLink string
}

type PasswordResetData struct {
	ResetLink string
}

type InvitationData struct {
	OrganizationName string
	Role             string
	AcceptLink       string
}

type SubscriptionActivatedData struct {
	OrganizationName string
	PlanName         string
	PeriodEnd        *time.Time
}

type SubscriptionCancelledData struct {
	OrganizationName string
	PlanName         string
	EndsAt           *time.Time
}

type InvoicePaidData struct {
	OrganizationName string
	Amount           string
	InvoiceURL       string
}

type PaymentFailedData struct {
	OrganizationName string
	Amount           string
}

type ExpiryWarningData struct {
	OrganizationName string
	PlanName         string
	DaysLeft         int
	ExpiryDate       time.Time
}

type AdminAlertData struct {
	Subject string
	Body    string
}

func NewEmailService(apiKey, from string, adminEmails []string) (*EmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %v", err)
	}

	return &EmailService{
		apiKey:      apiKey,
		from:        from,
		adminEmails: adminEmails,
		templates:   templates,
	}, nil
}

func (s *EmailService) sendTemplateEmail(to, subject, templateName string, data interface{}) error {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("template execution error: %v", err)
	}

	emailData := EmailData{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    body.String(),
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("error marshaling email data: %v", err)
	}

	req, err := http.NewRequest("POST", "https://api.resend.com/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending email: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("resend API error: %s", string(respBody))
	}

	return nil
}

func (s *EmailService) SendWelcomeEmail(email, name string) error {
	return s.sendTemplateEmail(email, "Welcome aboard! 🎉", "welcome.html", WelcomeEmailData{Name: name})
}

func (s *EmailService) SendMagicLinkEmail(email, name, loginLink string) error {
	data := MagicLinkData{Name: name, LoginLink: loginLink}
	return s.sendTemplateEmail(email, "Your login link", "magic_link.html", data)
}

func (s *EmailService) SendPasswordResetEmail(email, resetLink string) error {
	return s.sendTemplateEmail(email, "Reset your password", "password_reset.html", PasswordResetData{ResetLink: resetLink})
}

func (s *EmailService) SendInvitationEmail(email, organizationName, role, acceptLink string) error {
	data := InvitationData{OrganizationName: organizationName, Role: role, AcceptLink: acceptLink}
	return s.sendTemplateEmail(email, fmt.Sprintf("You've been invited to %s", organizationName), "invitation.html", data)
}

func (s *EmailService) SendSubscriptionActivatedEmail(email, organizationName, planName string, periodEnd *time.Time) error {
	data := SubscriptionActivatedData{OrganizationName: organizationName, PlanName: planName, PeriodEnd: periodEnd}
	return s.sendTemplateEmail(email, "Your subscription is active ✅", "subscription_activated.html", data)
}

func (s *EmailService) SendSubscriptionCancelledEmail(email, organizationName, planName string, endsAt *time.Time) error {
	data := SubscriptionCancelledData{OrganizationName: organizationName, PlanName: planName, EndsAt: endsAt}
	return s.sendTemplateEmail(email, "Your subscription has been cancelled", "subscription_cancelled.html", data)
}

func (s *EmailService) SendInvoicePaidEmail(email, organizationName, amount, invoiceURL string) error {
	data := InvoicePaidData{OrganizationName: organizationName, Amount: amount, InvoiceURL: invoiceURL}
	return s.sendTemplateEmail(email, "Payment received 🧾", "invoice_paid.html", data)
}

func (s *EmailService) SendPaymentFailedEmail(email, organizationName, amount string) error {
	data := PaymentFailedData{OrganizationName: organizationName, Amount: amount}
	return s.sendTemplateEmail(email, "Payment failed — action required", "payment_failed.html", data)
}

func (s *EmailService) SendSubscriptionExpiryWarning(email, organizationName, planName string, expiryDate time.Time, daysLeft int) error {
	data := ExpiryWarningData{
		OrganizationName: organizationName,
		PlanName:         planName,
		DaysLeft:         daysLeft,
		ExpiryDate:       expiryDate,
	}
	return s.sendTemplateEmail(email, fmt.Sprintf("Your subscription ends in %d days", daysLeft), "expiry_warning.html", data)
}

// SendAdminAlert notifies every configured operator address. Best effort:
// individual failures are logged and swallowed.
func (s *EmailService) SendAdminAlert(subject, body string) {
	data := AdminAlertData{Subject: subject, Body: body}
	for _, admin := range s.adminEmails {
		if err := s.sendTemplateEmail(admin, "[ALERT] "+subject, "admin_alert.html", data); err != nil {
			log.Printf("Could not send admin alert to %s: %v", admin, err)
		}
	}
}
