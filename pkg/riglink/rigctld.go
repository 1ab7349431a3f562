package riglink

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// fullScaleWatts converts the rig's normalized RF power level (0.0-1.0)
// to watts for status reporting.
const fullScaleWatts = 100.0

// RigctldTransport speaks the Hamlib rigctld line protocol over TCP to the
// process that owns the serial link to the radio (rigctld, or any
// compatible CAT server).
//
// One command per line, one reply per line; errors are reported as
// "RPRT <code>".
type RigctldTransport struct {
	addr    string
	timeout time.Duration

	conn    *textproto.Conn
	tcpConn net.Conn
}

// NewRigctldTransport creates a transport for the given address. The
// timeout bounds dial, read and write of every transaction.
func NewRigctldTransport(addr string, timeout time.Duration) *RigctldTransport {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RigctldTransport{addr: addr, timeout: timeout}
}

// Open dials the rigctld endpoint.
func (t *RigctldTransport) Open() error {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	tcpConn, err := net.DialTimeout("tcp", t.addr, t.timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
	}

	t.tcpConn = tcpConn
	t.conn = textproto.NewConn(tcpConn)
	return nil
}

// Close closes the connection.
func (t *RigctldTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// cmd sends one command and reads nlines reply lines. A connection lost
// mid-transaction is dropped so the next call re-dials.
func (t *RigctldTransport) cmd(nlines int, format string, args ...interface{}) ([]string, error) {
	if t.conn == nil {
		// Lazy reconnect: the endpoint may have restarted.
		if err := t.Open(); err != nil {
			return nil, err
		}
	}

	t.tcpConn.SetDeadline(time.Now().Add(t.timeout))
	defer t.tcpConn.SetDeadline(time.Time{})

	id, err := t.conn.Cmd(format, args...)
	if err != nil {
		return nil, t.mapNetError(err)
	}

	t.conn.StartResponse(id)
	defer t.conn.EndResponse(id)

	lines := make([]string, 0, nlines)
	for i := 0; i < nlines; i++ {
		line, err := t.conn.ReadLine()
		if err != nil {
			return nil, t.mapNetError(err)
		}
		if err := rprtToError(line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
		// Success replies to set commands are a single RPRT 0 line
		// even when a get would produce more.
		if strings.HasPrefix(line, "RPRT ") {
			break
		}
	}
	return lines, nil
}

// mapNetError folds transport failures into the taxonomy and drops the
// connection so the next transaction re-dials. The drop also covers
// timeouts: a late reply left buffered on the old stream would be read as
// the answer to the next command.
func (t *RigctldTransport) mapNetError(err error) error {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrLinkTimeout, err)
	}
	if err == io.EOF {
		return fmt.Errorf("%w: connection closed", ErrLinkUnavailable)
	}
	return fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
}

// rprtToError turns a "RPRT n" line into an error. Hamlib reports device
// rejections this way; transport-level faults never reach this point.
func rprtToError(line string) error {
	if !strings.HasPrefix(line, "RPRT ") {
		return nil
	}
	code, err := strconv.Atoi(strings.TrimPrefix(line, "RPRT "))
	if err != nil {
		return fmt.Errorf("%w: malformed reply %q", ErrRejected, line)
	}
	if code == 0 {
		return nil
	}
	return fmt.Errorf("%w: code %d", ErrRejected, code)
}

// GetFrequency reads the dial frequency in Hz.
func (t *RigctldTransport) GetFrequency() (uint64, error) {
	lines, err := t.cmd(1, `\get_freq`)
	if err != nil {
		return 0, err
	}
	hz, err := strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad frequency %q", ErrRejected, lines[0])
	}
	return hz, nil
}

// SetFrequency tunes the radio.
func (t *RigctldTransport) SetFrequency(hz uint64) error {
	_, err := t.cmd(1, `\set_freq %d`, hz)
	return err
}

// GetMode reads the operating mode. The passband line is read and ignored.
func (t *RigctldTransport) GetMode() (Mode, error) {
	lines, err := t.cmd(2, `\get_mode`)
	if err != nil {
		return "", err
	}
	return modeFromHamlib(strings.TrimSpace(lines[0])), nil
}

// SetMode switches the operating mode with the default passband.
func (t *RigctldTransport) SetMode(mode Mode) error {
	_, err := t.cmd(1, `\set_mode %s 0`, modeToHamlib(mode))
	return err
}

// GetPower reads the RF power level and scales it to watts.
func (t *RigctldTransport) GetPower() (float64, error) {
	lines, err := t.cmd(1, `\get_level RFPOWER`)
	if err != nil {
		return 0, err
	}
	level, err := strconv.ParseFloat(strings.TrimSpace(lines[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad power level %q", ErrRejected, lines[0])
	}
	return level * fullScaleWatts, nil
}

// SetPTT keys or unkeys the transmitter.
func (t *RigctldTransport) SetPTT(on bool) error {
	v := 0
	if on {
		v = 1
	}
	_, err := t.cmd(1, `\set_ptt %d`, v)
	return err
}

// Hamlib uses PKT* names for data modes; the data-mode apps behind the
// bridge all run DIGITAL as packet USB.
func modeToHamlib(m Mode) string {
	if m == ModeDigital {
		return "PKTUSB"
	}
	return string(m)
}

func modeFromHamlib(s string) Mode {
	switch s {
	case "PKTUSB", "PKTLSB", "RTTY", "RTTYR", "PSK", "PSKR":
		return ModeDigital
	}
	if m, ok := ParseMode(s); ok {
		return m
	}
	return ModeUSB
}
