package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/w4sdr/rigmuxd/pkg/ptt"
	"github.com/w4sdr/rigmuxd/pkg/riglink"
)

// errBadArgs covers unrecognized verbs and malformed arguments. It only
// ever affects the connection that sent the line.
var errBadArgs = errors.New("bad arguments")

// Verb identifies a control command. Dispatch over this enum is
// exhaustive; anything that doesn't parse becomes errBadArgs up front.
type Verb int

const (
	VerbGetFreq Verb = iota
	VerbSetFreq
	VerbGetMode
	VerbSetMode
	VerbSetPTT
	VerbGetPTT
	VerbGetPower
	VerbGetVFO
	VerbSetVFO
	VerbGetSplit
	VerbSetSplit
	VerbDumpState
	VerbGetPowerstat
	VerbChkVFO
	VerbQuit
)

// Command is one parsed request line.
type Command struct {
	Verb  Verb
	Freq  uint64
	Mode  riglink.Mode
	PTTOn bool
}

// ParseCommand parses a single protocol line. One command per line:
//
//	f            get frequency        -> "<Hz>"
//	F <Hz>       set frequency        -> "OK"
//	m            get mode             -> "<mode>"
//	M <mode>     set mode             -> "OK"
//	t            get PTT state        -> "0" | "1"
//	t <0|1>      request/release PTT  -> "OK"
//	p            get power            -> "<watts>"
//	v            get VFO              -> "VFOA"
//	q            close the connection
//
// Hamlib-NET clients probe a few more verbs on connect; they are accepted
// as no-ops on this single-VFO, no-split radio: V <vfo>, s, S <...>,
// \dump_state, \get_powerstat, \chk_vfo.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errBadArgs
	}

	verb, args := fields[0], fields[1:]
	switch verb {
	case "f":
		if len(args) != 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbGetFreq}, nil

	case "F":
		if len(args) != 1 {
			return Command{}, errBadArgs
		}
		// Some clients (WSJT-X) send the frequency as a float.
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil || f < 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbSetFreq, Freq: uint64(f + 0.5)}, nil

	case "m":
		if len(args) != 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbGetMode}, nil

	case "M":
		if len(args) != 1 {
			return Command{}, errBadArgs
		}
		mode, ok := riglink.ParseMode(strings.ToUpper(args[0]))
		if !ok {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbSetMode, Mode: mode}, nil

	case "t", "T":
		switch len(args) {
		case 0:
			return Command{Verb: VerbGetPTT}, nil
		case 1:
			switch args[0] {
			case "0":
				return Command{Verb: VerbSetPTT, PTTOn: false}, nil
			case "1":
				return Command{Verb: VerbSetPTT, PTTOn: true}, nil
			}
		}
		return Command{}, errBadArgs

	case "p":
		if len(args) != 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbGetPower}, nil

	case "v":
		if len(args) != 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbGetVFO}, nil

	case "V":
		if len(args) != 1 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbSetVFO}, nil

	case "s":
		if len(args) != 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbGetSplit}, nil

	case "S":
		if len(args) < 1 || len(args) > 2 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbSetSplit}, nil

	case `\dump_state`:
		if len(args) != 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbDumpState}, nil

	case `\get_powerstat`:
		if len(args) != 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbGetPowerstat}, nil

	case `\chk_vfo`:
		if len(args) != 0 {
			return Command{}, errBadArgs
		}
		return Command{Verb: VerbChkVFO}, nil

	case "q", "Q":
		return Command{Verb: VerbQuit}, nil
	}

	return Command{}, errBadArgs
}

// errReply maps an error to the "ERR <reason>" reply line.
func errReply(err error) string {
	return "ERR " + reasonFor(err)
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ptt.ErrBusy):
		return "Busy"
	case errors.Is(err, ptt.ErrNotHolder):
		return "NotHolder"
	case errors.Is(err, riglink.ErrLinkUnavailable):
		return "LinkUnavailable"
	case errors.Is(err, riglink.ErrLinkTimeout):
		return "LinkTimeout"
	case errors.Is(err, riglink.ErrRejected):
		return "Rejected"
	default:
		return "BadArgs"
	}
}

// formatWatts renders power for the status reply.
func formatWatts(w float64) string {
	return fmt.Sprintf("%.1f", w)
}

// dumpState is the capability block Hamlib-NET clients request on connect:
// protocol version, single 150 kHz - 30 MHz VFO, no split.
const dumpState = `0
2
2
150000.000000 30000000.000000 0x1ff -1 -1 0x10000003 0x3
0 0 0 0 0 0 0
150000.000000 30000000.000000 0x1ff -1 -1 0x10000003 0x3
0 0 0 0 0 0 0
0 0
0 0
0x1ff 1
0x1ff 0
0 0
0x1e 2400
0x2 500
0x1 8000
0x1 2400
0x20 15000
0x20 8000
0x40 230000
0 0
9990
9990
10000
0
10
10
10000
1
1
1
0
0
0`
