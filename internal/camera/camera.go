// Package camera wraps the Raspberry Pi camera tools. Video goes through
// raspivid as a long-lived child process, stills through raspistill runs.
package camera

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stratoprobe/internal/config"
)

var (
	// ErrAlreadyRecording means a recording is in progress.
	ErrAlreadyRecording = errors.New("camera: already recording")
	// ErrNotRecording means StopRecording found no recording to stop.
	ErrNotRecording = errors.New("camera: not recording")
	// ErrFileExists refuses to overwrite existing footage.
	ErrFileExists = errors.New("camera: output file already exists")
	// ErrTestFile means the self-test recording left no file behind.
	ErrTestFile = errors.New("camera: test recording produced no file")
)

// Camera drives video and still capture. Safe for concurrent use; the
// hardware only supports one capture at a time.
type Camera struct {
	video config.VideoConfig
	pic   config.PictureConfig
	dir   string
	log   *logrus.Logger

	// Binaries are fields so tests can substitute stand-ins.
	videoBin string
	stillBin string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// New returns a camera writing videos to <dir>/video and pictures to
// <dir>/img.
func New(video config.VideoConfig, pic config.PictureConfig, dir string, log *logrus.Logger) *Camera {
	return &Camera{
		video:    video,
		pic:      pic,
		dir:      dir,
		log:      log,
		videoBin: "raspivid",
		stillBin: "raspistill",
	}
}

// Record starts recording to <dir>/video/<filename> and returns once the
// recorder is running. A zero duration records until StopRecording.
func (c *Camera) Record(d time.Duration, filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return ErrAlreadyRecording
	}

	path := filepath.Join(c.dir, "video", filename)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	}

	args := []string{
		"-n",
		"-o", path,
		"-t", strconv.FormatInt(d.Milliseconds(), 10),
		"-w", strconv.Itoa(c.video.Width),
		"-h", strconv.Itoa(c.video.Height),
		"-fps", strconv.Itoa(c.video.FPS),
		"-b", strconv.Itoa(c.video.Bitrate),
	}
	if c.video.Rotation != 0 {
		args = append(args, "-rot", strconv.Itoa(c.video.Rotation))
	}

	cmd := exec.Command(c.videoBin, args...)
	c.log.Infof("Recording video to %s (duration %s).", path, d)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("camera: start recorder: %w", err)
	}

	done := make(chan struct{})
	c.cmd = cmd
	c.done = done

	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		if c.cmd == cmd {
			c.cmd = nil
			c.done = nil
		}
		c.mu.Unlock()
		close(done)
		if err != nil {
			c.log.Warnf("Recorder exited: %v", err)
		} else {
			c.log.Info("Recording finished.")
		}
	}()
	return nil
}

// StopRecording kills the recorder and waits for it to be reaped.
func (c *Camera) StopRecording() error {
	c.mu.Lock()
	cmd, done := c.cmd, c.done
	c.mu.Unlock()

	if cmd == nil {
		return ErrNotRecording
	}
	c.log.Info("Stopping video recording.")
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("camera: stop recorder: %w", err)
	}
	<-done
	return nil
}

// IsRecording reports whether a recorder process is running.
func (c *Camera) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil
}

// TakePicture captures a still to <dir>/img/<filename>, synchronously.
func (c *Camera) TakePicture(filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return ErrAlreadyRecording
	}

	path := filepath.Join(c.dir, "img", filename)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	}

	args := []string{
		"-n",
		"-o", path,
		"-w", strconv.Itoa(c.pic.Width),
		"-h", strconv.Itoa(c.pic.Height),
	}
	if c.pic.Rotation != 0 {
		args = append(args, "-rot", strconv.Itoa(c.pic.Rotation))
	}
	if !c.pic.Exif {
		args = append(args, "-x", "none")
	}

	c.log.Infof("Taking picture to %s.", path)
	if err := exec.Command(c.stillBin, args...).Run(); err != nil {
		return fmt.Errorf("camera: take picture: %w", err)
	}
	return nil
}

// SelfTest records a short clip, verifies the file landed on disk and
// removes it. Run before flight to catch a dead or mis-wired camera.
func (c *Camera) SelfTest() error {
	c.log.Info("Testing camera recording.")
	if err := c.Record(10*time.Second, "test.h264"); err != nil {
		return err
	}

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}

	path := filepath.Join(c.dir, "video", "test.h264")
	if _, err := os.Stat(path); err != nil {
		return ErrTestFile
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("camera: remove test recording: %w", err)
	}
	c.log.Info("Camera test OK.")
	return nil
}
