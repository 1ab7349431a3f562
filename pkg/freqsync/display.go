package freqsync

import (
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/w4sdr/rigmuxd/pkg/riglink"
)

// RigctlDisplay talks to the waterfall display's rigctl server (SDR++ and
// friends expose one) using the short command forms: `f`, `F <Hz>`,
// `M <mode>`. The display is passive: we push tuning to it and poll it for
// user-initiated tuning.
type RigctlDisplay struct {
	addr    string
	timeout time.Duration

	conn    *textproto.Conn
	tcpConn net.Conn
}

// NewRigctlDisplay creates a client for the display endpoint.
func NewRigctlDisplay(addr string, timeout time.Duration) *RigctlDisplay {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RigctlDisplay{addr: addr, timeout: timeout}
}

// Close closes the connection.
func (d *RigctlDisplay) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *RigctlDisplay) cmd(format string, args ...interface{}) (string, error) {
	if d.conn == nil {
		tcpConn, err := net.DialTimeout("tcp", d.addr, d.timeout)
		if err != nil {
			return "", fmt.Errorf("display unreachable: %w", err)
		}
		d.tcpConn = tcpConn
		d.conn = textproto.NewConn(tcpConn)
	}

	d.tcpConn.SetDeadline(time.Now().Add(d.timeout))
	defer d.tcpConn.SetDeadline(time.Time{})

	id, err := d.conn.Cmd(format, args...)
	if err != nil {
		d.drop()
		return "", fmt.Errorf("display write failed: %w", err)
	}

	d.conn.StartResponse(id)
	defer d.conn.EndResponse(id)

	line, err := d.conn.ReadLine()
	if err != nil {
		d.drop()
		return "", fmt.Errorf("display read failed: %w", err)
	}
	return line, nil
}

func (d *RigctlDisplay) drop() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

// GetFrequency polls the display's tuned frequency.
func (d *RigctlDisplay) GetFrequency() (uint64, error) {
	resp, err := d.cmd("f")
	if err != nil {
		return 0, err
	}
	hz, err := strconv.ParseUint(strings.TrimSpace(resp), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("display returned bad frequency %q", resp)
	}
	return hz, nil
}

// SetFrequency retunes the display.
func (d *RigctlDisplay) SetFrequency(hz uint64) error {
	resp, err := d.cmd("F %d", hz)
	if err != nil {
		return err
	}
	return checkRPRT(resp)
}

// SetMode switches the display's demodulator. Displays have no DIGITAL
// demodulator; data modes ride on USB.
func (d *RigctlDisplay) SetMode(mode riglink.Mode) error {
	name := string(mode)
	if mode == riglink.ModeDigital {
		name = "USB"
	}
	resp, err := d.cmd("M %s", name)
	if err != nil {
		return err
	}
	return checkRPRT(resp)
}

func checkRPRT(resp string) error {
	if !strings.HasPrefix(resp, "RPRT ") {
		return nil
	}
	if strings.TrimPrefix(resp, "RPRT ") == "0" {
		return nil
	}
	return fmt.Errorf("display refused command: %s", resp)
}
