package main

import (
	"fmt"
	"io"
	"sync"

	"rehearse/internal/practice"
	api "rehearse/internal/services/practice"
)

// terminalNavigator prints view navigation to the terminal.
type terminalNavigator struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
	done     chan struct{}
	once     sync.Once
}

func newTerminalNavigator(out io.Writer) *terminalNavigator {
	return &terminalNavigator{out: out, colorize: shouldColorize(out), done: make(chan struct{})}
}

func (n *terminalNavigator) ShowItem(session api.Session, item api.Item) {
	n.print(statusInfo, "Item", fmt.Sprintf("%d/%d %s", item.Index+1, session.TotalItems, item.Prompt))
}

func (n *terminalNavigator) ShowResult(item api.Item, url string) {
	n.print(statusOK, "Result", fmt.Sprintf("%s %s", item.ID, url))
}

func (n *terminalNavigator) Completed(session api.Session, redirect string) {
	msg := fmt.Sprintf("session %s complete", session.ID)
	if redirect != "" {
		msg += " (next: " + redirect + ")"
	}
	n.print(statusOK, "Session", msg)
	n.finish()
}

func (n *terminalNavigator) Redirect(path string) {
	n.print(statusWarn, "Redirect", path)
	n.finish()
}

func (n *terminalNavigator) Notify(severity practice.Severity, message string) {
	kind := statusInfo
	switch severity {
	case practice.SeverityWarning:
		kind = statusWarn
	case practice.SeverityError:
		kind = statusError
	}
	n.print(kind, labelFor(string(severity)), message)
}

// Done is closed once the view navigated away from the session.
func (n *terminalNavigator) Done() <-chan struct{} {
	return n.done
}

func (n *terminalNavigator) finish() {
	n.once.Do(func() { close(n.done) })
}

func (n *terminalNavigator) print(kind statusKind, label, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.out, renderStatusLine(label, kind, message, n.colorize))
}
