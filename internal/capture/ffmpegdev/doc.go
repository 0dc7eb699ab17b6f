// Package ffmpegdev implements capture.Device on top of an ffmpeg subprocess.
//
// One ffmpeg process reads the V4L2 camera and emits packed RGB24 frames on
// stdout; frames fan out to the preview and to any active recorder with
// latest-wins delivery. Each recorder is a second ffmpeg process that encodes
// the raw frames (plus the ALSA microphone) into WebM or fragmented MP4 and
// streams the container bytes back as chunks.
//
// Encoder support is probed once per device with `ffmpeg -encoders`.
package ffmpegdev
