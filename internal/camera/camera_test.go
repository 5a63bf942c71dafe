package camera

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"stratoprobe/internal/config"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeBin writes an executable shell script that stands in for raspivid or
// raspistill: it creates the -o target, then sleeps for the given time.
func fakeBin(t *testing.T, sleep string) string {
	t.Helper()
	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then out="$2"; fi
	shift
done
: > "$out"
sleep ` + sleep + "\n"

	path := filepath.Join(t.TempDir(), "fakecam")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestCamera(t *testing.T) (*Camera, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "video"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "img"), 0o755))

	cfg := config.VideoConfig{Width: 1920, Height: 1080, FPS: 30, Bitrate: 10_000_000}
	pic := config.PictureConfig{Width: 3280, Height: 2464}
	return New(cfg, pic, dir, testLogger()), dir
}

func TestRecord_StartsAndStops(t *testing.T) {
	c, dir := newTestCamera(t)
	c.videoBin = fakeBin(t, "60")

	require.NoError(t, c.Record(0, "flight.h264"))
	require.True(t, c.IsRecording())

	require.ErrorIs(t, c.Record(0, "other.h264"), ErrAlreadyRecording)

	require.NoError(t, c.StopRecording())
	require.False(t, c.IsRecording())
	require.FileExists(t, filepath.Join(dir, "video", "flight.h264"))

	require.ErrorIs(t, c.StopRecording(), ErrNotRecording)
}

func TestRecord_RefusesExistingFile(t *testing.T) {
	c, dir := newTestCamera(t)
	c.videoBin = fakeBin(t, "60")

	path := filepath.Join(dir, "video", "flight.h264")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	require.ErrorIs(t, c.Record(0, "flight.h264"), ErrFileExists)
	require.False(t, c.IsRecording())
}

func TestRecord_ClearsStateWhenRecorderExits(t *testing.T) {
	c, _ := newTestCamera(t)
	c.videoBin = fakeBin(t, "0")

	require.NoError(t, c.Record(time.Second, "short.h264"))
	require.Eventually(t, func() bool { return !c.IsRecording() },
		2*time.Second, 10*time.Millisecond)

	// A new recording may start once the previous recorder exits.
	require.NoError(t, c.Record(time.Second, "next.h264"))
	require.NoError(t, c.StopRecording())
}

func TestTakePicture(t *testing.T) {
	c, dir := newTestCamera(t)
	c.stillBin = fakeBin(t, "0")

	require.NoError(t, c.TakePicture("ground.jpg"))
	require.FileExists(t, filepath.Join(dir, "img", "ground.jpg"))

	require.ErrorIs(t, c.TakePicture("ground.jpg"), ErrFileExists)
}

func TestTakePicture_BlockedWhileRecording(t *testing.T) {
	c, _ := newTestCamera(t)
	c.videoBin = fakeBin(t, "60")
	c.stillBin = fakeBin(t, "0")

	require.NoError(t, c.Record(0, "flight.h264"))
	defer func() { _ = c.StopRecording() }()

	require.ErrorIs(t, c.TakePicture("mid-air.jpg"), ErrAlreadyRecording)
}

func TestSelfTest(t *testing.T) {
	c, dir := newTestCamera(t)
	c.videoBin = fakeBin(t, "0")

	require.NoError(t, c.SelfTest())
	require.NoFileExists(t, filepath.Join(dir, "video", "test.h264"))
}

func TestSelfTest_ReportsMissingFile(t *testing.T) {
	c, _ := newTestCamera(t)
	// Stand-in that exits without producing output.
	script := "#!/bin/sh\nexit 0\n"
	path := filepath.Join(t.TempDir(), "fakecam")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	c.videoBin = path

	require.ErrorIs(t, c.SelfTest(), ErrTestFile)
}
