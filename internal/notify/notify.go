// Package notify delivers operator notices about pauses, resumes and errors.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sukria/koan-sub002/internal/config"
	"github.com/sukria/koan-sub002/internal/domain"
)

// NotificationType represents the severity of a notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Event names what happened
type Event string

const (
	EventPaused      Event = "paused"
	EventResumed     Event = "resumed"
	EventError       Event = "error"
	EventMissionDone Event = "mission_done"
	EventStopped     Event = "stopped"
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Event   Event
	Project string // Optional project reference
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers, joining their errors
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, Notification) error { return nil }

// LogNotifier writes notifications to a structured logger
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Send(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Type {
	case NotifyWarning:
		level = slog.LevelWarn
	case NotifyError:
		level = slog.LevelError
	}
	logger.Log(ctx, level, n.Title, "event", n.Event, "project", n.Project, "message", n.Message)
	return nil
}

// Paused builds the notice for a pause record
func Paused(rec *domain.PauseRecord) Notification {
	msg := fmt.Sprintf("Paused (%s) until %s", rec.Reason, rec.ResumeAt.Local().Format("Mon 15:04"))
	if rec.DisplayHint != "" {
		msg += fmt.Sprintf(", reset %s", rec.DisplayHint)
	}
	return Notification{
		Title:   "koan paused",
		Message: msg,
		Type:    NotifyWarning,
		Event:   EventPaused,
	}
}

// Resumed builds the notice sent when a pause ends
func Resumed(rec *domain.PauseRecord, now time.Time) Notification {
	msg := "Resuming work"
	if rec != nil {
		msg = fmt.Sprintf("Resuming after %s pause of %s", rec.Reason, now.Sub(rec.CreatedAt).Round(time.Minute))
	}
	return Notification{
		Title:   "koan resumed",
		Message: msg,
		Type:    NotifyInfo,
		Event:   EventResumed,
	}
}

// Failed builds an error notice
func Failed(project string, err error) Notification {
	return Notification{
		Title:   "koan error",
		Message: err.Error(),
		Type:    NotifyError,
		Event:   EventError,
		Project: project,
	}
}

// New builds the notifier chain from configuration. Notices are always logged.
func New(cfg config.NotificationsConfig, logger *slog.Logger) Notifier {
	notifiers := []Notifier{LogNotifier{Logger: logger}}
	if cfg.Desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.SlackWebhook))
	}
	return NewMultiNotifier(notifiers...)
}
