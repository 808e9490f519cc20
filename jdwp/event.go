/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jdwp

import "fmt"

// Event is a tagged union over the event kinds a Composite can carry.
// Only Breakpoint is decoded in full; every other kind is kept as its
// raw kind byte plus requestID so a caller can at least recognize it.
type Event interface {
	isEvent()
	Kind() byte
}

// Breakpoint is a thread hitting an installed breakpoint location.
type Breakpoint struct {
	RequestID uint32
	Thread    ThreadID
	Location  Location
}

func (Breakpoint) isEvent()    {}
func (Breakpoint) Kind() byte  { return eventKindBreakpoint }

// OtherEvent is any event kind this client does not decode in detail.
type OtherEvent struct {
	EventKind byte
	RequestID uint32
}

func (OtherEvent) isEvent()   {}
func (e OtherEvent) Kind() byte { return e.EventKind }

// Composite is the decoded form of an Event.Composite command packet:
// Composite { suspendPolicy, events: [Event] } where the leading event
// is at minimum Breakpoint(threadID, Location).
type Composite struct {
	SuspendPolicy byte
	Events        []Event
}

func decodeComposite(data []byte) (*Composite, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("jdwp: event composite truncated")
	}
	r := &reader{b: data}
	comp := &Composite{SuspendPolicy: r.u8()}
	count := r.u32()
	for i := uint32(0); i < count; i++ {
		if r.remaining() < 5 {
			return nil, fmt.Errorf("jdwp: event composite truncated")
		}
		kind := r.u8()
		reqID := r.u32()
		switch kind {
		case eventKindBreakpoint:
			if r.remaining() < 8+25 {
				return nil, fmt.Errorf("jdwp: breakpoint event truncated")
			}
			thread := ThreadID(r.u64())
			loc := readLocation(r)
			comp.Events = append(comp.Events, Breakpoint{RequestID: reqID, Thread: thread, Location: loc})
		default:
			// Unknown event kinds carry a variable-length tail this
			// client has no schema for; the composite is only used
			// for its leading Breakpoint event, so the decode stops
			// rather than guessing a layout it can't verify.
			comp.Events = append(comp.Events, OtherEvent{EventKind: kind, RequestID: reqID})
			return comp, nil
		}
	}
	return comp, nil
}

// LeadingBreakpoint returns the composite's first event as a Breakpoint,
// failing explicitly when it is any other kind -- StackFrame.GetValues
// and GetTopFrame both assume a breakpoint-suspended thread, so a composite
// that does not start with one is an error rather than a silent no-op.
func (c *Composite) LeadingBreakpoint() (Breakpoint, error) {
	if len(c.Events) == 0 {
		return Breakpoint{}, fmt.Errorf("jdwp: composite carries no events")
	}
	bp, ok := c.Events[0].(Breakpoint)
	if !ok {
		return Breakpoint{}, fmt.Errorf("jdwp: leading event is kind %d, not Breakpoint", c.Events[0].Kind())
	}
	return bp, nil
}
