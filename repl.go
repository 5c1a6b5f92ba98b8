package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mstarongithub/scanout/backend/drm"
	"github.com/mstarongithub/scanout/common/ipc"
	"github.com/mstarongithub/scanout/eventloop"
	"github.com/mstarongithub/scanout/globals"
	"github.com/mstarongithub/scanout/repl"
	"github.com/mstarongithub/scanout/session"
	"github.com/mstarongithub/scanout/util"
	"github.com/mstarongithub/scanout/util/wrappers"
	"github.com/sirupsen/logrus"
)

var errNoBackend = errors.New("not available without the drm backend")

// console answers repl commands. Anything touching the backend runs on the loop.
type console struct {
	loop    *eventloop.Loop
	backend *drm.Backend
	globals *globals.Registry
	stop    func()
}

const consoleHelp = `Commands:
	outputs [name]  list outputs, with modes when a name is given
	devices         list open display devices
	gpus            list render nodes
	pause, resume   act as if the session was switched away or back
	rescan          look for connector changes on every device
	inspect loop    show the event sources of the display loop
	run <cmd>       start a command
	quit            stop scanout`

func replRunner(c *console) {
	// Wrappers so that closing the repl leaves stdin and stdout open
	commandRepl := repl.NewRepl(wrappers.NewReaderWrapper(os.Stdin), wrappers.NewWriterWrapper(os.Stdout))
	logrus.Debugln("Starting repl")
	if err := commandRepl.Run(c.handle); err != nil {
		logrus.WithError(err).Warnln("Repl stopped")
	}
}

func (c *console) handle(input string, r *repl.Repl) (string, error) {
	var cmd, arg string
	util.Unpack(strings.SplitN(input, " ", 2), &cmd, &arg)
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "help":
		return consoleHelp, nil
	case "outputs":
		return formatOutputs(c.globals.Snapshot(ipc.OutputRequest{
			IncludeModes:    arg != "",
			SpecifiesOutput: arg != "",
			TargetOutput:    arg,
		})), nil
	case "devices":
		var out string
		err := c.onLoop(func() {
			var b strings.Builder
			for _, d := range c.backend.Devices() {
				fmt.Fprintf(&b, "%s %s render %s (%s): %s\n", d.ID, d.Path, d.RenderNode, d.Renderer, strings.Join(d.Outputs, ", "))
			}
			out = strings.TrimSuffix(b.String(), "\n")
		})
		return answer(out, err)
	case "gpus":
		var out string
		err := c.onLoop(func() {
			gpus := c.backend.GPUs()
			var b strings.Builder
			fmt.Fprintf(&b, "primary %s", gpus.Primary())
			for _, n := range gpus.Nodes() {
				fmt.Fprintf(&b, "\n%s %s", n, gpus.Select(n).Kind)
			}
			out = b.String()
		})
		return answer(out, err)
	case "pause":
		return answer("Paused", c.onLoop(func() { c.backend.OnSessionEvent(session.Pause) }))
	case "resume":
		return answer("Resumed", c.onLoop(func() { c.backend.OnSessionEvent(session.Activate) }))
	case "rescan":
		return answer("Rescanned", c.onLoop(func() { c.backend.Rescan() }))
	case "inspect":
		if arg != "loop" || c.loop == nil {
			return "Nothing to inspect", nil
		}
		return fmt.Sprintf("Sources: %s\nLast dispatch: %s",
			strings.Join(c.loop.Sources(), ", "),
			c.loop.LastDispatch().Format("15:04:05.000")), nil
	case "run":
		if arg == "" {
			return "Nothing to run", nil
		}
		runCommand(arg, r.Output)
		return "Running " + strings.Fields(arg)[0], nil
	case "quit":
		c.stop()
		return "Quitting", repl.ErrQuit
	default:
		return "Unknown command, try help", nil
	}
}

func answer(out string, err error) (string, error) {
	if err != nil {
		return err.Error(), nil
	}
	return out, nil
}

func (c *console) onLoop(fn func()) error {
	if c.loop == nil || c.backend == nil {
		return errNoBackend
	}
	return c.loop.Call(func() error {
		fn()
		return nil
	})
}

// runCommand starts cmdString in the background, its output goes to out
func runCommand(cmdString string, out io.Writer) {
	parts := strings.Fields(cmdString)
	if len(parts) == 0 {
		return
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	go func(cmd *exec.Cmd, cmdString string) {
		if err := cmd.Start(); err != nil {
			logrus.WithError(err).WithField("command", cmdString).Errorln("Command failed to start")
			return
		}
		err := cmd.Wait()
		if exiterr, ok := err.(*exec.ExitError); ok {
			logrus.WithError(err).WithFields(logrus.Fields{
				"exit-code": exiterr.ExitCode(),
				"command":   cmdString,
			}).Warningln("Bad command completion")
		}
	}(cmd, cmdString)
}

// formatOutputs renders an output listing, one output per line and its modes below
func formatOutputs(res ipc.OutputResponse) string {
	if res.OutputsFound == 0 {
		return "No outputs"
	}
	var b strings.Builder
	for i, info := range res.Details {
		if i > 0 {
			b.WriteByte('\n')
		}
		pos := "unmapped"
		if info.Mapped {
			pos = fmt.Sprintf("+%d+%d", info.X, info.Y)
		}
		fmt.Fprintf(&b, "%s: %s %s %dx%d%s %s scale %g", info.Name, info.Make, info.Model,
			info.Width, info.Height, pos, info.Transform, info.Scale)
		for _, m := range res.OutputModes[info.Name] {
			fmt.Fprintf(&b, "\n\t%dx%d@%.3f", m.Width, m.Height, float64(m.RefreshRate)/1000)
			if m.Preferred {
				b.WriteString(" preferred")
			}
			if m.Current {
				b.WriteString(" current")
			}
		}
	}
	return b.String()
}
