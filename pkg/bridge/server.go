package bridge

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/w4sdr/rigmuxd/pkg/logging"
	"github.com/w4sdr/rigmuxd/pkg/riglink"
)

// Rig is the subset of RigLink the bridge needs. Transmit-key operations
// are deliberately absent: they go through the arbiter.
type Rig interface {
	GetFrequency() (uint64, error)
	SetFrequency(hz uint64) error
	GetMode() (riglink.Mode, error)
	SetMode(mode riglink.Mode) error
	GetPower() (float64, error)
}

// Arbiter is the transmit-key authority.
type Arbiter interface {
	Request(clientID string) error
	Release(clientID string) error
	RevokeHolder(clientID string)
	Holder() (string, bool)
}

// Config holds the bridge listener settings.
type Config struct {
	BindAddress string
	Port        int
	IdleTimeout time.Duration
}

// ClientSession tracks one control connection.
type ClientSession struct {
	ID            string
	RemoteAddr    string
	ConnectedAt   time.Time
	lastCommandAt time.Time
}

// Server accepts concurrent control connections speaking the line
// protocol and serializes their effects onto the rig and the PTT arbiter.
// Per-connection command order is preserved; cross-connection atomicity
// comes from the components' own critical sections.
type Server struct {
	cfg     Config
	rig     Rig
	arbiter Arbiter

	onClients func(delta int)

	ln   net.Listener
	mu   sync.Mutex
	done bool
	wg   sync.WaitGroup
}

// NewServer creates a control bridge. onClients may be nil; it is called
// with +1/-1 as connections come and go.
func NewServer(cfg Config, rig Rig, arbiter Arbiter, onClients func(delta int)) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Server{cfg: cfg, rig: rig, arbiter: arbiter, onClients: onClients}
}

// Start begins listening and accepting connections.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen failed: %w", err)
	}
	s.ln = ln
	logging.Infof("bridge", "control bridge listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and waits for connection handlers to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	logging.Info("bridge", "control bridge stopped")
}

func (s *Server) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopping() {
				return
			}
			logging.Errorf("bridge", "accept failed: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs one client session. On any exit path the session's PTT
// grant (if held) is revoked.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	session := &ClientSession{
		ID:          uuid.NewString(),
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}
	logging.Infof("bridge", "client connected: %s (%s)", session.RemoteAddr, session.ID)
	if s.onClients != nil {
		s.onClients(1)
	}

	defer func() {
		s.arbiter.RevokeHolder(session.ID)
		if s.onClients != nil {
			s.onClients(-1)
		}
		logging.Infof("bridge", "client disconnected: %s", session.RemoteAddr)
	}()

	scanner := bufio.NewScanner(conn)
	for {
		// Idle connections are closed; disconnect handling then
		// revokes any grant the client still holds.
		conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		if !scanner.Scan() {
			if netErr, ok := scanner.Err().(net.Error); ok && netErr.Timeout() {
				logging.Warnf("bridge", "closing idle connection %s", session.RemoteAddr)
			}
			return
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		session.lastCommandAt = time.Now()

		cmd, err := ParseCommand(line)
		if err != nil {
			// Protocol errors affect this connection only.
			if werr := s.reply(conn, errReply(err)); werr != nil {
				return
			}
			continue
		}

		if cmd.Verb == VerbQuit {
			s.reply(conn, "OK")
			return
		}

		if err := s.reply(conn, s.execute(session, cmd)); err != nil {
			return
		}
	}
}

func (s *Server) reply(conn net.Conn, line string) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := fmt.Fprintf(conn, "%s\n", line)
	return err
}

// execute translates one command into rig/arbiter calls and renders the
// reply line. Component errors are returned verbatim as ERR reasons.
func (s *Server) execute(session *ClientSession, cmd Command) string {
	switch cmd.Verb {
	case VerbGetFreq:
		hz, err := s.rig.GetFrequency()
		if err != nil {
			return errReply(err)
		}
		return strconv.FormatUint(hz, 10)

	case VerbSetFreq:
		if err := s.rig.SetFrequency(cmd.Freq); err != nil {
			return errReply(err)
		}
		return "OK"

	case VerbGetMode:
		mode, err := s.rig.GetMode()
		if err != nil {
			return errReply(err)
		}
		return string(mode)

	case VerbSetMode:
		if err := s.rig.SetMode(cmd.Mode); err != nil {
			return errReply(err)
		}
		return "OK"

	case VerbSetPTT:
		var err error
		if cmd.PTTOn {
			err = s.arbiter.Request(session.ID)
		} else {
			err = s.arbiter.Release(session.ID)
		}
		if err != nil {
			return errReply(err)
		}
		return "OK"

	case VerbGetPTT:
		if _, held := s.arbiter.Holder(); held {
			return "1"
		}
		return "0"

	case VerbGetPower:
		watts, err := s.rig.GetPower()
		if err != nil {
			return errReply(err)
		}
		return formatWatts(watts)

	case VerbGetVFO:
		// Single-VFO radio; clients only probe this.
		return "VFOA"

	case VerbSetVFO, VerbSetSplit:
		// Accepted and ignored: one VFO, no split.
		return "OK"

	case VerbGetSplit:
		return "0\nVFOA"

	case VerbDumpState:
		return dumpState

	case VerbGetPowerstat:
		return "1"

	case VerbChkVFO:
		return "0"
	}

	return errReply(errBadArgs)
}
