package session

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/andresmejia3/facegate/internal/source"
)

// Run is the control loop. Each tick reads one frame (bounded by the
// source's polling interval), processes it, then applies at most one
// pending command. It returns nil after an exit command or ctx
// cancellation, and an ErrSourceLost error when the source goes silent.
func (c *Controller) Run(ctx context.Context, commands <-chan Command) error {
	if err := c.ready(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown requested", "reason", ctx.Err())
			c.Exit()
			return nil
		default:
		}

		frame, ok := c.opts.Source.Read()
		if ok {
			out := c.Process(frame)
			if c.opts.Frames != nil {
				c.opts.Frames.PutFrame(out)
			}
		} else if c.opts.Source.Lost() {
			c.Exit()
			return source.ErrSourceLost
		}

		select {
		case cmd, open := <-commands:
			if !open {
				commands = nil
				continue
			}
			c.Apply(cmd, frame, ok)
			if c.phase == Terminated {
				return nil
			}
		default:
		}
	}
}

// Apply executes one command against the tick's frame and answers on the
// command's reply channel. Capture uses the frame the tick already read.
func (c *Controller) Apply(cmd Command, frame image.Image, ok bool) Reply {
	var (
		err error
		msg string
	)
	switch cmd.Kind {
	case CmdSelect:
		err = c.SelectUser(cmd.Label)
	case CmdCapture:
		err = c.capture(frame, ok)
	case CmdTrain:
		err = c.TrainModel()
	case CmdToggle:
		_, err = c.ToggleRecognition()
	case CmdState:
	case CmdHelp:
		msg = c.Help()
	case CmdExit:
		c.Exit()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}

	if err != nil {
		slog.Warn("command failed", "command", cmd.Kind, "code", CodeOf(err), "error", err)
	}
	r := newReply(err, c.State(), msg)
	if cmd.Reply != nil {
		select {
		case cmd.Reply <- r:
		default:
			slog.Warn("dropping reply, receiver not ready", "command", cmd.Kind)
		}
	}
	return r
}
