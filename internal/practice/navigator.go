package practice

import api "rehearse/internal/services/practice"

// Severity ranks a user message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Navigator receives the view's navigation and messages.
type Navigator interface {
	ShowItem(session api.Session, item api.Item)
	ShowResult(item api.Item, url string)
	Completed(session api.Session, redirect string)
	Redirect(path string)
	Notify(severity Severity, message string)
}
