// Package capture owns the camera/microphone handle and the recorder state
// machine for a single practice recording.
//
// The Controller moves through idle → recording → processing → idle, with an
// error state reached from device acquisition or mid-stream recorder failures.
// Only the Controller touches the device stream; other components (the
// guidance loop, the preview) receive a read-only FrameSource.
//
// Concrete devices live in subpackages: ffmpegdev drives V4L2/ALSA through an
// ffmpeg subprocess, and hotplug reports camera arrival and removal via udev.
package capture
