package email

import "github.com/Strob0t/elicitor/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     config["port"],
			From:     config["from"],
			User:     config["user"],
			Password: config["password"],
			Domain:   config["domain"],
		}), nil
	})
}
