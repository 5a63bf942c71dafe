//go:build linux

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// Open requests the given BCM GPIO line as an input. On Pi kernels the
// header GPIOs are usually on gpiochip0, but some kernel variants expose
// extra chips, so every /dev/gpiochip* is tried.
func Open(pin int, consumer string) (Pin, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}

	lineName := fmt.Sprintf("GPIO%d", pin)

	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithConsumer(consumer))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpiodPin{chip: chip, line: line, dir: In}, nil
	}

	return nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

type gpiodPin struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	dir  Direction
}

func (p *gpiodPin) SetDirection(d Direction) error {
	if p == nil || p.line == nil {
		return fmt.Errorf("gpio: pin not initialized")
	}
	if p.dir == d {
		return nil
	}
	var err error
	switch d {
	case In:
		err = p.line.Reconfigure(gpiocdev.AsInput)
	case Out:
		err = p.line.Reconfigure(gpiocdev.AsOutput(0))
	default:
		return fmt.Errorf("gpio: unknown direction %d", int(d))
	}
	if err != nil {
		return fmt.Errorf("gpio: reconfigure as %s: %w", d, err)
	}
	p.dir = d
	return nil
}

func (p *gpiodPin) Value() (int, error) {
	if p == nil || p.line == nil {
		return 0, fmt.Errorf("gpio: pin not initialized")
	}
	v, err := p.line.Value()
	if err != nil {
		return 0, fmt.Errorf("gpio: read value: %w", err)
	}
	return v, nil
}

func (p *gpiodPin) SetValue(v int) error {
	if p == nil || p.line == nil {
		return fmt.Errorf("gpio: pin not initialized")
	}
	if p.dir != Out {
		return fmt.Errorf("gpio: pin is not an output")
	}
	if err := p.line.SetValue(v); err != nil {
		return fmt.Errorf("gpio: set value: %w", err)
	}
	return nil
}

func (p *gpiodPin) Close() error {
	if p == nil || p.line == nil {
		return nil
	}
	err := p.line.Close()
	p.line = nil
	if p.chip != nil {
		_ = p.chip.Close()
		p.chip = nil
	}
	return err
}
