package bridge

import (
	"errors"
	"testing"

	"github.com/w4sdr/rigmuxd/pkg/ptt"
	"github.com/w4sdr/rigmuxd/pkg/riglink"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr bool
	}{
		{line: "f", want: Command{Verb: VerbGetFreq}},
		{line: "F 14074000", want: Command{Verb: VerbSetFreq, Freq: 14074000}},
		{line: "F 14074000.0", want: Command{Verb: VerbSetFreq, Freq: 14074000}},
		{line: "F 14074000.6", want: Command{Verb: VerbSetFreq, Freq: 14074001}},
		{line: "m", want: Command{Verb: VerbGetMode}},
		{line: "M USB", want: Command{Verb: VerbSetMode, Mode: riglink.ModeUSB}},
		{line: "M usb", want: Command{Verb: VerbSetMode, Mode: riglink.ModeUSB}},
		{line: "M DIGITAL", want: Command{Verb: VerbSetMode, Mode: riglink.ModeDigital}},
		{line: "t", want: Command{Verb: VerbGetPTT}},
		{line: "t 1", want: Command{Verb: VerbSetPTT, PTTOn: true}},
		{line: "t 0", want: Command{Verb: VerbSetPTT, PTTOn: false}},
		{line: "T 1", want: Command{Verb: VerbSetPTT, PTTOn: true}},
		{line: "p", want: Command{Verb: VerbGetPower}},
		{line: "v", want: Command{Verb: VerbGetVFO}},
		{line: "V VFOB", want: Command{Verb: VerbSetVFO}},
		{line: "s", want: Command{Verb: VerbGetSplit}},
		{line: "S 1 VFOB", want: Command{Verb: VerbSetSplit}},
		{line: "S 0", want: Command{Verb: VerbSetSplit}},
		{line: `\dump_state`, want: Command{Verb: VerbDumpState}},
		{line: `\get_powerstat`, want: Command{Verb: VerbGetPowerstat}},
		{line: `\chk_vfo`, want: Command{Verb: VerbChkVFO}},
		{line: "q", want: Command{Verb: VerbQuit}},
		{line: "  F   7074000  ", want: Command{Verb: VerbSetFreq, Freq: 7074000}},

		{line: "", wantErr: true},
		{line: "x", wantErr: true},
		{line: "F", wantErr: true},
		{line: "F abc", wantErr: true},
		{line: "F -100", wantErr: true},
		{line: "F 1 2", wantErr: true},
		{line: "f 1", wantErr: true},
		{line: "M", wantErr: true},
		{line: "M SSB", wantErr: true},
		{line: "t 2", wantErr: true},
		{line: "t on", wantErr: true},
		{line: "p 1", wantErr: true},
		{line: "V", wantErr: true},
		{line: "s 1", wantErr: true},
		{line: "S", wantErr: true},
		{line: `\dump_state now`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCommand(%q) should fail, got %+v", tt.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q) failed: %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestErrReply(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ptt.ErrBusy, "ERR Busy"},
		{ptt.ErrNotHolder, "ERR NotHolder"},
		{riglink.ErrLinkUnavailable, "ERR LinkUnavailable"},
		{riglink.ErrLinkTimeout, "ERR LinkTimeout"},
		{riglink.ErrRejected, "ERR Rejected"},
		{errBadArgs, "ERR BadArgs"},
		{errors.New("something else"), "ERR BadArgs"},
	}

	for _, tt := range tests {
		if got := errReply(tt.err); got != tt.want {
			t.Errorf("errReply(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
