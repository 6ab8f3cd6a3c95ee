package session

import (
	"context"
	"strings"

	"github.com/andresmejia3/facegate/internal/types"
)

// Kind names a control command.
type Kind string

const (
	CmdSelect  Kind = "select"
	CmdCapture Kind = "capture"
	CmdTrain   Kind = "train"
	CmdToggle  Kind = "toggle"
	CmdState   Kind = "state"
	CmdHelp    Kind = "help"
	CmdExit    Kind = "exit"
)

var aliases = map[string]Kind{
	"select_user":        CmdSelect,
	"capture_sample":     CmdCapture,
	"train_model":        CmdTrain,
	"toggle_recognition": CmdToggle,
	"get_state":          CmdState,
	"show_help":          CmdHelp,
	"quit":               CmdExit,
}

// ParseKind accepts the short command names and their long forms.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if k, ok := aliases[s]; ok {
		return k, true
	}
	switch k := Kind(s); k {
	case CmdSelect, CmdCapture, CmdTrain, CmdToggle, CmdState, CmdHelp, CmdExit:
		return k, true
	}
	return "", false
}

// Command is one request for the control loop. Reply, when set, must have
// room for one value; the loop never blocks on it.
type Command struct {
	Kind  Kind
	Label int
	Reply chan<- Reply
}

// Reply is the outcome of a command.
type Reply struct {
	Code    ResultCode  `json:"code"`
	Error   string      `json:"error,omitempty"`
	State   types.State `json:"state"`
	Message string      `json:"message,omitempty"`

	Err error `json:"-"`
}

func newReply(err error, st types.State, msg string) Reply {
	r := Reply{Code: CodeOf(err), State: st, Message: msg, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Send submits a command and waits for its reply. It gives up when ctx
// ends, which covers a loop that has already exited.
func Send(ctx context.Context, commands chan<- Command, kind Kind, label int) (Reply, error) {
	reply := make(chan Reply, 1)
	select {
	case commands <- Command{Kind: kind, Label: label, Reply: reply}:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
