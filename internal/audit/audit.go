package audit

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Actor identifies who initiated an enforcement action.
const (
	ActorAdmin     = "admin"
	ActorAutomated = "automated"
)

// Entry is one enforcement record for the hosting system's audit trail.
type Entry struct {
	ChatID       int64
	Actor        string
	TargetUserID int64
	Action       string
	Reason       string
}

// String renders the plain tagged form of the entry.
func (e Entry) String() string {
	s := fmt.Sprintf("#ENFORCEMENT chat=%d actor=%s target=%d action=%s", e.ChatID, e.Actor, e.TargetUserID, e.Action)
	if e.Reason != "" {
		s += fmt.Sprintf(" reason=%q", e.Reason)
	}
	return s
}

// Logger emits enforcement entries on a dedicated structured stream,
// separate from application logging.
type Logger struct {
	log zerolog.Logger
}

func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		log: zerolog.New(w).With().Timestamp().Str("stream", "audit").Logger(),
	}
}

func (l *Logger) Record(e Entry) {
	l.log.Info().
		Int64("chat", e.ChatID).
		Str("actor", e.Actor).
		Int64("target_user", e.TargetUserID).
		Str("action", e.Action).
		Str("reason", e.Reason).
		Msg(e.String())
}
