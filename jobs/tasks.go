package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeApprovalReminder is the task type for the pending-review sweep.
	TaskTypeApprovalReminder = "approval:remind"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// ApprovalReminderPayload configures the pending-review sweep.
type ApprovalReminderPayload struct {
	// OlderThanHours selects approvals that have waited at least this long
	// in a review stage. Zero means the default of 48 hours.
	OlderThanHours int `json:"older_than_hours"`
}

// NewApprovalReminderTask constructs the reminder task.
func NewApprovalReminderTask(payload ApprovalReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeApprovalReminder, data), nil
}
