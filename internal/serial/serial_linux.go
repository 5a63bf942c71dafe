//go:build linux

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Open opens the device in raw 8N1 mode at the given baud rate.
//
// VMIN=0/VTIME=10 gives polled reads: read(2) returns after at most one
// second with whatever arrived, or zero bytes on silence, which the port
// surfaces as ErrTimeout.
func Open(path string, baud int) (Port, error) {
	flag := unix.O_RDWR | unix.O_NOCTTY
	fd, err := unix.Open(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	spd, err := baudToUnix(baud)
	if err != nil {
		return nil, err
	}

	// Raw mode, no line processing.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 10

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	ok = true
	return &port{fd: fd, path: path}, nil
}

type port struct {
	fd   int
	path string
}

func (p *port) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := unix.Read(p.fd, b[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("serial: read %s: %w", p.path, err)
		}
		if n == 0 {
			return 0, ErrTimeout
		}
		return b[0], nil
	}
}

func (p *port) Read(buf []byte) (int, error) {
	for {
		n, err := unix.Read(p.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("serial: read %s: %w", p.path, err)
		}
		if n == 0 {
			return 0, ErrTimeout
		}
		return n, nil
	}
}

func (p *port) Write(buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := unix.Write(p.fd, buf[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("serial: write %s: %w", p.path, err)
		}
		written += n
	}
	return written, nil
}

func (p *port) Flush() error {
	if err := unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		return fmt.Errorf("serial: flush %s: %w", p.path, err)
	}
	return nil
}

func (p *port) Close() error {
	return unix.Close(p.fd)
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("serial: unsupported baud %d", baud)
	}
}
