// Package hotplug reports camera arrival and removal from udev netlink events.
package hotplug

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"rehearse/internal/logging"
)

// Action is the udev action for a camera node.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event describes a camera node appearing or disappearing.
type Event struct {
	Action Action
	Device string
	Model  string
}

// Watcher listens for video4linux udev events.
type Watcher struct {
	logger  *slog.Logger
	handler func(Event)
	device  string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewWatcher builds a watcher. When device is set, only events for that node
// are delivered.
func NewWatcher(logger *slog.Logger, device string, handler func(Event)) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		logger:  logging.NewComponentLogger(logger, "hotplug"),
		handler: handler,
		device:  strings.TrimSpace(device),
	}
}

// Start connects to the udev netlink socket and begins delivering events.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("hotplug watcher is nil")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure access to netlink sockets"),
			logging.String(logging.FieldImpact, "camera hotplug notifications unavailable"),
		)
		return err
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true
	go w.loop(ctx, conn, w.quit)

	w.logger.Info("hotplug watcher started",
		logging.String(logging.FieldEventType, "hotplug_started"),
		logging.String("device", w.device),
	)
	return nil
}

// Stop closes the netlink connection. Safe to call repeatedly.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
}

// Running reports whether the watcher is connected.
func (w *Watcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, matcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handle(uevent)
		case err := <-errs:
			w.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
			)
		}
	}
}

// matcher selects video4linux add/remove events.
func matcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (w *Watcher) handle(uevent netlink.UEvent) {
	event, ok := toEvent(uevent)
	if !ok {
		w.logger.Debug("ignoring uevent without device name", logging.String("kobj", uevent.KObj))
		return
	}
	if w.device != "" && event.Device != w.device {
		return
	}
	w.logger.Info("camera hotplug event",
		logging.String(logging.FieldEventType, "camera_"+string(event.Action)),
		logging.String("device", event.Device),
		logging.String("model", event.Model),
	)
	if w.handler != nil {
		w.handler(event)
	}
}

func toEvent(uevent netlink.UEvent) (Event, bool) {
	device := uevent.Env["DEVNAME"]
	if device == "" {
		devpath := uevent.Env["DEVPATH"]
		if devpath == "" {
			return Event{}, false
		}
		parts := strings.Split(devpath, "/")
		device = parts[len(parts)-1]
	}
	if !strings.HasPrefix(device, "/dev/") {
		device = "/dev/" + device
	}
	action := ActionRemove
	if uevent.Action == netlink.ADD {
		action = ActionAdd
	}
	return Event{
		Action: action,
		Device: device,
		Model:  strings.ReplaceAll(uevent.Env["ID_V4L_PRODUCT"], "_", " "),
	}, true
}
