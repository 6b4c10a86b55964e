// Package extension defines the scripting/plugin host hook set the
// session layer calls out to. The host itself is an external collaborator
// (spec.md §1); this package only specifies the capability interface and
// a no-op default, per spec.md §9: "Do not specify any scripting
// semantics beyond this hook set."
package extension

// Host is the set of hooks a scripting/extension collaborator may
// implement. Every method may block briefly; the session worker is the
// only caller and treats that as an acceptable suspension point
// (spec.md §5).
type Host interface {
	// OnCursorDown is called before a cursor_down is accepted. Returning
	// true cancels the click.
	OnCursorDown(sessionID uint16) (cancel bool)
	OnMessage(sessionID uint16, text string)
	OnCommand(sessionID uint16, name string, args []string)
	OnUserJoin(sessionID uint16, nickname string)
	OnUserLeave(sessionID uint16)
	OnUserMouseDown(sessionID uint16)
	OnUserMouseUp(sessionID uint16)
	OnTick()
}

// NopHost implements Host with no-ops, used whenever no scripting host is
// configured for a room.
type NopHost struct{}

func (NopHost) OnCursorDown(uint16) bool                    { return false }
func (NopHost) OnMessage(uint16, string)                     {}
func (NopHost) OnCommand(uint16, string, []string)           {}
func (NopHost) OnUserJoin(uint16, string)                    {}
func (NopHost) OnUserLeave(uint16)                           {}
func (NopHost) OnUserMouseDown(uint16)                       {}
func (NopHost) OnUserMouseUp(uint16)                         {}
func (NopHost) OnTick()                                      {}

var _ Host = NopHost{}
