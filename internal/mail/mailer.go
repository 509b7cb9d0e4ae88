// Package mail renders the transactional emails of the auth flows and hands
// them to a transport.
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Transport delivers a rendered message.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

type Mailer struct {
	transport Transport
	baseURL   string
	appName   string
}

func NewMailer(t Transport, baseURL, appName string) *Mailer {
	if appName == "" {
		appName = "Fanzone"
	}
	return &Mailer{transport: t, baseURL: strings.TrimRight(baseURL, "/"), appName: appName}
}

func (m *Mailer) link(path, token string) string {
	return m.baseURL + path + "?token=" + url.QueryEscape(token)
}

func (m *Mailer) SendVerificationEmail(ctx context.Context, to, name, token string) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nWelcome to %s! Please confirm your email address by opening the link below:\n\n%s\n\nThe link expires in 24 hours. If you did not create an account, ignore this email.\n",
		name, m.appName, m.link("/verify-email", token),
	)
	return m.send(ctx, Message{To: to, Subject: "Verify your " + m.appName + " account", Body: body})
}

func (m *Mailer) SendPasswordResetEmail(ctx context.Context, to, name, token string) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nWe received a request to reset your %s password. Choose a new one here:\n\n%s\n\nThe link expires in 1 hour. If you did not ask for this, you can ignore this email.\n",
		name, m.appName, m.link("/reset-password", token),
	)
	return m.send(ctx, Message{To: to, Subject: "Reset your " + m.appName + " password", Body: body})
}

func (m *Mailer) SendWelcomeEmail(ctx context.Context, to, name string) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nYour %s account is ready. Pick your favorite teams to get started:\n\n%s\n",
		name, m.appName, m.baseURL+"/dashboard",
	)
	return m.send(ctx, Message{To: to, Subject: "Welcome to " + m.appName, Body: body})
}

func (m *Mailer) send(ctx context.Context, msg Message) error {
	if err := m.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %q: %w", msg.Subject, err)
	}
	return nil
}
