package hotplug

import (
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestToEvent(t *testing.T) {
	cases := []struct {
		name   string
		uevent netlink.UEvent
		want   Event
		ok     bool
	}{
		{
			name: "devname",
			uevent: netlink.UEvent{Action: netlink.ADD, Env: map[string]string{
				"DEVNAME": "/dev/video2", "ID_V4L_PRODUCT": "HD_Webcam",
			}},
			want: Event{Action: ActionAdd, Device: "/dev/video2", Model: "HD Webcam"},
			ok:   true,
		},
		{
			name: "devpath fallback",
			uevent: netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{
				"DEVPATH": "/devices/pci0000:00/usb1/video4linux/video0",
			}},
			want: Event{Action: ActionRemove, Device: "/dev/video0"},
			ok:   true,
		},
		{
			name:   "no device",
			uevent: netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := toEvent(tc.uevent)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("toEvent = %+v,%v want %+v,%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestHandleFiltersConfiguredDevice(t *testing.T) {
	var events []Event
	w := NewWatcher(nil, "/dev/video0", func(e Event) { events = append(events, e) })

	w.handle(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "/dev/video1"}})
	w.handle(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "/dev/video0"}})

	if len(events) != 1 || events[0].Device != "/dev/video0" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestMatcherSelectsVideo4Linux(t *testing.T) {
	m := matcher()
	if err := m.Compile(); err != nil {
		t.Fatalf("compile matcher: %v", err)
	}
	add := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "video4linux"}}
	if !m.Evaluate(add) {
		t.Fatal("expected video4linux add to match")
	}
	block := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}
	if m.Evaluate(block) {
		t.Fatal("expected block event to be rejected")
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	w := NewWatcher(nil, "", nil)
	w.Stop()
	if w.Running() {
		t.Fatal("expected watcher to be stopped")
	}
	var nilWatcher *Watcher
	nilWatcher.Stop()
}
