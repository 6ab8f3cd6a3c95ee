package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/andresmejia3/facegate/internal/api"
	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/detect"
	"github.com/andresmejia3/facegate/internal/directory"
	"github.com/andresmejia3/facegate/internal/mqtt"
	"github.com/andresmejia3/facegate/internal/session"
	"github.com/andresmejia3/facegate/internal/source"
	"github.com/andresmejia3/facegate/internal/utils"
)

// SourceOptions are the frame-source and detector flags shared by run,
// enroll and probe.
type SourceOptions struct {
	Primary       string
	Fallback      string
	Detector      string
	DetectorModel string
}

var (
	runSrc      SourceOptions
	httpAddr    string
	mqttBroker  string
	snapshotDir string
	noKeyboard  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive enrollment and recognition session",
	Long: `Opens the camera, loads the face detector, the trained model and the identity
directory, then takes commands from the keyboard and, when enabled, from the
HTTP API and the MQTT control topic.`,
	Run: func(cmd *cobra.Command, args []string) {
		applySourceFlags(cmd, &Cfg, runSrc)
		if cmd.Flags().Changed("http") {
			Cfg.HTTP.Addr = httpAddr
		}
		if cmd.Flags().Changed("mqtt") {
			Cfg.MQTT.Broker = mqttBroker
		}
		if cmd.Flags().Changed("snapshots") {
			Cfg.Session.SnapshotDir = snapshotDir
		}
		runSession(cmd.Context(), Cfg)
	},
}

func init() {
	addSourceFlags(runCmd, &runSrc)
	runCmd.Flags().StringVar(&httpAddr, "http", "", "Serve the HTTP control API on this address, e.g. :8080")
	runCmd.Flags().StringVar(&mqttBroker, "mqtt", "", "MQTT broker for the fleet control plane, e.g. tcp://broker:1883")
	runCmd.Flags().StringVar(&snapshotDir, "snapshots", "", "Directory for recognition snapshots (empty disables)")
	runCmd.Flags().BoolVar(&noKeyboard, "no-keyboard", false, "Ignore stdin; control only through HTTP or MQTT")
	rootCmd.AddCommand(runCmd)
}

func addSourceFlags(c *cobra.Command, o *SourceOptions) {
	c.Flags().StringVarP(&o.Primary, "source", "s", "", "Primary frame source: .sdp file, GStreamer pipeline or ffmpeg:<input>")
	c.Flags().StringVar(&o.Fallback, "fallback", "", "Fallback camera: device index or /dev/videoN")
	c.Flags().StringVar(&o.Detector, "detector", "", "Face detector backend: pigo or cascade")
	c.Flags().StringVar(&o.DetectorModel, "detector-model", "", "Face detector model file")
}

func applySourceFlags(c *cobra.Command, cfg *config.Config, o SourceOptions) {
	if c.Flags().Changed("source") {
		cfg.Source.Primary = o.Primary
	}
	if c.Flags().Changed("fallback") {
		cfg.Source.Fallback = o.Fallback
	}
	if c.Flags().Changed("detector") {
		cfg.Detector.Backend = o.Detector
	}
	if c.Flags().Changed("detector-model") {
		cfg.Detector.Model = o.DetectorModel
	}
}

func newSource(cfg config.Config) *source.Source {
	return source.New(cfg.Source.Primary, cfg.Source.Fallback, source.Backends().Open, cfg.Source.ReadTimeout, cfg.Source.MaxMisses)
}

// newController wires the production collaborators.
func newController(cfg config.Config, frames session.FrameSink, events []session.EventSink) *session.Controller {
	d := cfg.Detector
	return session.New(session.Options{
		Locator: detect.NewLocator(d.MinSize, func() (detect.Detector, error) {
			return detect.Open(d.Backend, d.Model, d.MinSize, d.Quality)
		}),
		Classifier: newClassifier(cfg),
		Source:     newSource(cfg),
		Directory: func(ctx context.Context) *directory.Directory {
			return directory.LoadDSN(ctx, cfg.Directory.DSN)
		},
		Frames:        frames,
		Events:        events,
		DefaultLabel:  cfg.Session.DefaultLabel,
		MaxLabel:      cfg.Session.MaxLabel,
		EventInterval: cfg.Session.EventInterval,
		SnapshotDir:   cfg.Session.SnapshotDir,
	})
}

func runSession(ctx context.Context, cfg config.Config) {
	commands := make(chan session.Command)

	var (
		frames session.FrameSink
		events []session.EventSink
	)

	if cfg.HTTP.Addr != "" {
		srv := api.NewServer(cfg.HTTP.Addr, commands)
		frames = srv.Frames()
		events = append(events, srv.Events())
		go func() {
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  HTTP API stopped: %v\n", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(os.Stderr, "🌐 HTTP control API on %s\n", cfg.HTTP.Addr)
	}

	if cfg.MQTT.Broker != "" {
		client, err := mqtt.Dial(ctx, cfg.MQTT)
		if err != nil {
			// The appliance keeps working locally without the fleet.
			fmt.Fprintf(os.Stderr, "⚠️  MQTT disabled: %v\n", err)
		} else {
			topics := mqtt.TopicsFor(cfg.MQTT.Prefix, cfg.MQTT.Device)
			handler := mqtt.NewHandler(client, topics, commands)
			if err := handler.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  MQTT control disabled: %v\n", err)
			} else {
				defer handler.Stop()
			}
			events = append(events, mqtt.NewEmitter(client, topics.Events))
			defer client.Disconnect(250)
			fmt.Fprintf(os.Stderr, "📡 MQTT control on %s\n", topics.Control)
		}
	}

	ctrl := newController(cfg, frames, events)
	if err := ctrl.Initialize(ctx); err != nil {
		utils.Die(fmt.Sprintf("Session initialization failed (%s)", session.CodeOf(err)), err, nil)
	}
	fmt.Fprintf(os.Stderr, "🎥 Session %s ready\n", ctrl.SessionID()[:8])
	fmt.Fprint(os.Stderr, ctrl.Help())

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	restore := func() {}
	if !noKeyboard {
		restore = keyboard(loopCtx, os.Stdin, os.Stderr, commands, cfg.Session.MaxLabel)
	}

	err := ctrl.Run(loopCtx, commands)
	stopLoop()
	restore()
	if errors.Is(err, source.ErrSourceLost) {
		utils.Die("Frame source lost", err, nil)
	}
	if err != nil {
		utils.Die("Session failed", err, nil)
	}

	st := ctrl.State()
	fmt.Fprintf(os.Stderr, "\n👋 Session ended. %d samples captured, model trained: %v\n", st.SampleCount, st.Trained)
}

// keyboard feeds stdin into the control loop. A terminal is switched to raw
// mode for single-key input; anything else is read line by line. The
// returned func restores the terminal.
func keyboard(ctx context.Context, in *os.File, out io.Writer, commands chan<- session.Command, maxLabel int) func() {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		go readLines(ctx, in, out, commands, maxLabel)
		return func() {}
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(out, "⚠️  Raw keyboard unavailable, falling back to line input: %v\n", err)
		go readLines(ctx, in, out, commands, maxLabel)
		return func() {}
	}
	go readKeys(ctx, in, rawWriter{out}, commands, maxLabel)
	return func() { term.Restore(fd, state) }
}

// rawWriter restores the carriage return a raw terminal no longer adds.
type rawWriter struct{ w io.Writer }

func (r rawWriter) Write(p []byte) (int, error) {
	if _, err := r.w.Write([]byte(strings.ReplaceAll(string(p), "\n", "\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func readKeys(ctx context.Context, in io.Reader, out io.Writer, commands chan<- session.Command, maxLabel int) {
	r := bufio.NewReader(in)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		kind, label, ok := keyCommand(b, maxLabel)
		if !ok {
			continue
		}
		if !dispatch(ctx, out, commands, kind, label) {
			return
		}
	}
}

func readLines(ctx context.Context, in io.Reader, out io.Writer, commands chan<- session.Command, maxLabel int) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		kind, label, ok := lineCommand(sc.Text(), maxLabel)
		if !ok {
			fmt.Fprintf(out, "❓ Unknown command %q, press h for help\n", sc.Text())
			continue
		}
		if !dispatch(ctx, out, commands, kind, label) {
			return
		}
	}
}

// dispatch sends one command and prints the outcome. It reports false once
// the loop is gone.
func dispatch(ctx context.Context, out io.Writer, commands chan<- session.Command, kind session.Kind, label int) bool {
	reply, err := session.Send(ctx, commands, kind, label)
	if err != nil {
		return false
	}
	printReply(out, kind, reply)
	return kind != session.CmdExit
}

func printReply(out io.Writer, kind session.Kind, r session.Reply) {
	if r.Code != session.Success {
		fmt.Fprintf(out, "❌ %s: %s (%s)\n", kind, r.Error, r.Code)
		return
	}
	st := r.State
	switch kind {
	case session.CmdSelect:
		fmt.Fprintf(out, "👤 User %d (%s) selected\n", st.CurrentLabel, st.CurrentName)
	case session.CmdCapture:
		fmt.Fprintf(out, "📸 Sample captured for user %d (%d total)\n", st.CurrentLabel, st.SampleCount)
	case session.CmdTrain:
		fmt.Fprintf(out, "✅ Model trained on %d samples\n", st.SampleCount)
	case session.CmdToggle:
		state := "off"
		if st.Recognizing {
			state = "on"
		}
		fmt.Fprintf(out, "🔍 Recognition %s\n", state)
	case session.CmdHelp:
		fmt.Fprint(out, r.Message)
	case session.CmdState:
		fmt.Fprintf(out, "ℹ️  %s | user %d (%s) | recognition %v | samples %d | trained %v\n",
			st.Phase, st.CurrentLabel, st.CurrentName, st.Recognizing, st.SampleCount, st.Trained)
	}
}

// keyCommand maps one key press onto a command.
func keyCommand(b byte, maxLabel int) (session.Kind, int, bool) {
	switch {
	case b >= '1' && b <= '9':
		label := int(b - '0')
		if label > maxLabel {
			return "", 0, false
		}
		return session.CmdSelect, label, true
	case b == 'c' || b == 'C':
		return session.CmdCapture, 0, true
	case b == 't' || b == 'T':
		return session.CmdTrain, 0, true
	case b == 'r' || b == 'R':
		return session.CmdToggle, 0, true
	case b == 's' || b == 'S':
		return session.CmdState, 0, true
	case b == 'h' || b == 'H':
		return session.CmdHelp, 0, true
	case b == 0x1b, b == 'q', b == 'Q', b == 0x03: // Esc, q, Ctrl+C in raw mode
		return session.CmdExit, 0, true
	}
	return "", 0, false
}

// lineCommand accepts a single key or a command word with an optional
// label, e.g. "select 3".
func lineCommand(line string, maxLabel int) (session.Kind, int, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", 0, false
	}
	if len(fields) == 1 && len(fields[0]) == 1 {
		return keyCommand(fields[0][0], maxLabel)
	}
	kind, ok := session.ParseKind(fields[0])
	if !ok {
		return "", 0, false
	}
	if len(fields) > 1 {
		label, err := strconv.Atoi(fields[1])
		if err != nil {
			return "", 0, false
		}
		return kind, label, true
	}
	return kind, 0, true
}
