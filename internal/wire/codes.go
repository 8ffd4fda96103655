// internal/wire/codes.go
package wire

// Protocol vocabulary.
// These strings are the wire format and MUST NOT be configurable.

// ---- CLIENT -> SERVER ----

const (
	Start       = "START"
	Stop        = "STOP"
	Update      = "UPDATE"
	Download    = "DOWNLOAD"
	Board       = "BOARD"
	Boards      = "BOARDS"
	GetSessions = "GETSESSIONS"
	Reset       = "RESET"
	IsLogging   = "ISLOGGING"
)

// ---- SERVER -> CLIENT ----

const (
	// Ack is the generic success reply and the continuation sentinel.
	Ack = "ACK"

	// Nack is the generic negative reply and the end-of-stream sentinel.
	Nack = "NACK"

	// InSession rejects START while a session is running.
	InSession = "INSESSION"

	// NoSession rejects STOP or UPDATE while no session is running.
	NoSession = "NOSESSION"

	// Error prefixes a structured error reply: "ERROR <code>".
	Error = "ERROR"
)

// ---- ERROR CODES ----

const (
	// ErrCodeIllegal: command is known but not valid in the current state.
	ErrCodeIllegal = 1

	// ErrCodeUnknown: command is not part of the vocabulary.
	ErrCodeUnknown = 2

	// ErrCodeNoStorage: logging requested but no local storage is available.
	ErrCodeNoStorage = 3
)

// ServerVocabulary lists every command a server accepts in some state.
var ServerVocabulary = []string{
	Start, Stop, Update, Download, Board, Boards, GetSessions, Reset, IsLogging,
}

// ClientVocabulary lists every response a client accepts in some state.
var ClientVocabulary = []string{
	Ack, Nack, InSession, NoSession, Error, Boards,
}

// prefixed codes carry arguments and are matched on their leading characters.
var prefixed = map[string]bool{
	Download: true,
	Board:    true,
	Boards:   true,
	Reset:    true,
	Error:    true,
}
