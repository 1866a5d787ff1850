// Package iridium implements the Iridium mobile (ISU-side) driver of
// spec.md §4.6: the AT command state machine over SBD and RUDICS, the
// DTR hangup path, and the SBD/DCCL-style framing from internal/sbdpacket
// and internal/iridiumheader. It is grounded on
// original_source/iridium_driver_fsm.h and iridium_driver.cpp, flattened
// per spec.md §9's "flat enum State with an explicit transition table"
// design note in place of the original's boost::statechart hierarchy.
package iridium

// State is the flat rendering of the original's Active/Command/
// Configure/Ready hierarchy and the Dial/Answer/Online/Hangup call
// states. Exactly one State is active at a time; entry to and exit from
// the on-call region are signalled through SideEffect.EnterOnCall and
// SideEffect.ExitOnCall rather than a separate state value.
type State int

const (
	StateOff State = iota
	StateConfigure
	StateSetClock
	StateReady
	StateDial
	StateAnswer
	StateOnline
	StateHangingUp
	StatePostDisconnected
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StateConfigure:
		return "CONFIGURE"
	case StateSetClock:
		return "SET_CLOCK"
	case StateReady:
		return "READY"
	case StateDial:
		return "DIAL"
	case StateAnswer:
		return "ANSWER"
	case StateOnline:
		return "ONLINE"
	case StateHangingUp:
		return "HANGING_UP"
	case StatePostDisconnected:
		return "POST_DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// SBDState is the orthogonal NotOnCall/SBD region, active only while
// State == StateReady.
type SBDState int

const (
	SBDIdle SBDState = iota
	SBDClearBuffers
	SBDWrite
	SBDTransmit
	SBDReceive
)

// Event is the closed set of FSM inputs, the Go analogue of the
// original's boost::statechart event types.
type Event struct {
	Kind EventKind
	Line string // populated for EvATResponse
	SBDI string // populated for EvSBDTransmitComplete
	Ring bool   // populated for EvSBDBeginData: in response to a ring alert
	Data []byte // populated for EvSBDBeginData
}

type EventKind int

const (
	EvReset EventKind = iota
	EvATResponse
	EvConfigured
	EvDial
	EvRing
	EvConnect
	EvNoCarrier
	EvOnline
	EvHangup
	EvSendBye
	EvDisconnect
	EvSBDBeginData
	EvSBDWriteComplete
	EvSBDTransmitComplete
	EvSBDReceiveComplete
	EvSBDSendBufferCleared
)

// SideEffect is what the caller (the Iridium driver's do_work loop)
// should do in response to a transition: which AT command(s) to
// enqueue, whether to pulse DTR, and so on. A transition function
// returning a zero SideEffect means "no external action."
type SideEffect struct {
	SendAT      []string
	PulseDTR    bool
	EmitBye     bool
	EnterOnCall bool
	ExitOnCall  bool
}

// Transition is the explicit (state, event) -> (state, side effect)
// table spec.md §9 asks for in place of the original's deep statechart
// hierarchy. sbd is read/written in place for the orthogonal SBD
// region, active only while in StateReady.
func Transition(state State, sbd *SBDState, ev Event) (State, SideEffect) {
	switch state {
	case StateOff:
		if ev.Kind == EvReset {
			return StateConfigure, SideEffect{SendAT: []string{"AT"}}
		}
	case StateConfigure:
		switch ev.Kind {
		case EvATResponse:
			return StateSetClock, SideEffect{SendAT: []string{"AT+CIER=1,1,1,1"}}
		case EvReset:
			return StateConfigure, SideEffect{SendAT: []string{"AT"}}
		}
	case StateSetClock:
		switch ev.Kind {
		case EvATResponse, EvConfigured:
			*sbd = SBDIdle
			return StateReady, SideEffect{}
		case EvReset:
			return StateConfigure, SideEffect{SendAT: []string{"AT"}}
		}
	case StateReady:
		switch ev.Kind {
		case EvReset:
			return StateConfigure, SideEffect{SendAT: []string{"AT"}}
		case EvDial:
			return StateDial, SideEffect{SendAT: []string{"ATD300"}}
		case EvRing:
			return StateAnswer, SideEffect{SendAT: []string{"ATA"}}
		case EvSBDBeginData:
			*sbd = SBDClearBuffers
			return StateReady, SideEffect{SendAT: []string{"AT+SBDD0"}}
		case EvSBDSendBufferCleared:
			if *sbd == SBDClearBuffers {
				*sbd = SBDWrite
				return StateReady, SideEffect{SendAT: []string{sbdwbCommand(ev.Data)}}
			}
		case EvSBDWriteComplete:
			if *sbd == SBDWrite {
				*sbd = SBDTransmit
				cmd := "AT+SBDIX"
				if ev.Ring {
					cmd = "AT+SBDIXA"
				}
				return StateReady, SideEffect{SendAT: []string{cmd}}
			}
		case EvSBDTransmitComplete:
			if *sbd == SBDTransmit {
				*sbd = SBDReceive
				return StateReady, SideEffect{SendAT: []string{"AT+SBDRB"}}
			}
		case EvSBDReceiveComplete:
			if *sbd == SBDReceive {
				*sbd = SBDIdle
				return StateReady, SideEffect{}
			}
		}
	case StateDial:
		switch ev.Kind {
		case EvConnect:
			return StateOnline, SideEffect{EnterOnCall: true}
		case EvNoCarrier:
			return StateReady, SideEffect{}
		case EvHangup:
			return StateReady, SideEffect{}
		case EvReset:
			return StateConfigure, SideEffect{SendAT: []string{"AT"}}
		}
	case StateAnswer:
		switch ev.Kind {
		case EvConnect:
			return StateOnline, SideEffect{EnterOnCall: true}
		case EvNoCarrier:
			return StateReady, SideEffect{}
		case EvReset:
			return StateConfigure, SideEffect{SendAT: []string{"AT"}}
		}
	case StateOnline:
		switch ev.Kind {
		case EvReset:
			return StateConfigure, SideEffect{SendAT: []string{"AT"}, ExitOnCall: true}
		case EvSendBye:
			return StateOnline, SideEffect{EmitBye: true}
		case EvHangup:
			return StateHangingUp, SideEffect{SendAT: []string{"+++"}}
		case EvDisconnect, EvNoCarrier:
			return StatePostDisconnected, SideEffect{ExitOnCall: true}
		}
	case StateHangingUp:
		switch ev.Kind {
		case EvATResponse:
			return StateHangingUp, SideEffect{SendAT: []string{"ATH"}}
		case EvDisconnect, EvNoCarrier:
			return StatePostDisconnected, SideEffect{ExitOnCall: true}
		case EvReset:
			return StateConfigure, SideEffect{SendAT: []string{"AT"}, ExitOnCall: true, PulseDTR: true}
		}
	case StatePostDisconnected:
		switch ev.Kind {
		case EvReset, EvATResponse:
			return StateConfigure, SideEffect{SendAT: []string{"AT"}}
		}
	}
	return state, SideEffect{}
}
