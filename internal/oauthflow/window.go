package oauthflow

// Message is a cross-window message posted by the popup back to its
// opener once the authorization redirect completes.
type Message struct {
	// Origin of the posting window. Messages from origins outside the
	// handler's allow-list are ignored entirely.
	Origin string
	Type   string
	Code   string
	State  string
	Error  string
}

// Message types of the popup protocol.
const (
	MessageTypeSuccess = "OAUTH_SUCCESS"
	MessageTypeError   = "OAUTH_ERROR"
)

// Window is a handle on an opened popup window.
type Window interface {
	// Closed reports whether the window has been closed. Polled, not
	// pushed; the browser gives no close event across windows.
	Closed() bool

	// Close closes the window. Closing an already closed window is a
	// no-op.
	Close()
}

// WindowOpener opens the authorization URL in a popup. The surrounding UI
// layer supplies the real implementation; a blocked popup surfaces as an
// error (or a nil window) from Open.
type WindowOpener interface {
	Open(url string) (Window, error)
}
