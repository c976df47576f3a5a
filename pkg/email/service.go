// pkg/email/service.go
package email

var GlobalEmailService *EmailService

func InitEmailService(apiKey, from string, adminEmails []string) error {
	service, err := NewEmailService(apiKey, from, adminEmails)
	if err != nil {
		return err
	}
	GlobalEmailService = service
	return nil
}

// NotifyAdmins is a nil-safe wrapper around the global service's admin alert.
func NotifyAdmins(subject, body string) {
	if GlobalEmailService != nil {
		GlobalEmailService.SendAdminAlert(subject, body)
	}
}
