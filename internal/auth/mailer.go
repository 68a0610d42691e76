package auth

import (
	"bytes"
	"fmt"
	"html/template"
	"log"

	"gopkg.in/gomail.v2"

	"github.com/rajivgeraev/skillmates-api/internal/config"
)

// Mailer доставляет одноразовые коды
type Mailer interface {
	SendCode(email, code string) error
}

var codeTemplate = template.Must(template.New("code").Parse(`<p>Здравствуйте!</p>
<p>Ваш код подтверждения SkillMates: <b>{{.Code}}</b></p>
<p>Код действует {{.Minutes}} минут.</p>`))

// SMTPMailer отправляет коды через SMTP
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer возвращает SMTP-отправителя, а без настроек SMTP - отправителя,
// который пишет коды в лог
func NewMailer(cfg config.MailConfig) Mailer {
	if !cfg.Enabled() {
		log.Println("⚠️ SMTP не настроен, коды подтверждения будут записываться в лог")
		return LogMailer{}
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) SendCode(email, code string) error {
	var buf bytes.Buffer
	err := codeTemplate.Execute(&buf, struct {
		Code    string
		Minutes int
	}{code, int(CodeTTL.Minutes())})
	if err != nil {
		return fmt.Errorf("ошибка подготовки письма: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "Код подтверждения SkillMates")
	msg.SetBody("text/html", buf.String())

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("ошибка отправки письма: %w", err)
	}
	return nil
}

// LogMailer пишет коды в лог. Для локальной разработки.
type LogMailer struct{}

func (LogMailer) SendCode(email, code string) error {
	log.Printf("Код подтверждения для %s: %s", email, code)
	return nil
}
