//go:build linux

package lineio

import (
	"time"

	goserial "github.com/daedaluz/goserial"
)

// PulseDTR drops DTR on device for low for the given duration and raises it
// again, the "DTR low-pulse of 1 s" hangup path the Iridium mobile driver's
// Hangup state uses when an AT+CLHU/escape sequence hangup doesn't land.
// pkg/term (the LineIO Serial transport's backend) exposes no modem-control
// line access, so this opens the tty a second time through goserial purely
// to twiddle TIOCM_DTR.
func PulseDTR(device string, low time.Duration) error {
	port, err := goserial.Open(device, nil)
	if err != nil {
		return newTransportError("serial_dtr_open", device, err)
	}
	defer port.Close()

	if err := port.DisableModemLines(goserial.TIOCM_DTR); err != nil {
		return newTransportError("serial_dtr_clear", device, err)
	}
	time.Sleep(low)
	if err := port.EnableModemLines(goserial.TIOCM_DTR); err != nil {
		return newTransportError("serial_dtr_set", device, err)
	}
	return nil
}
