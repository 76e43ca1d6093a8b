// Package interactive provides the interactive command-line interface
// for the storfab simulator.
package interactive

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/storfab/storfab-go/internal/simharness"
	"github.com/storfab/storfab-go/pkg/adapter"
	"github.com/storfab/storfab-go/pkg/device"
	"github.com/storfab/storfab-go/pkg/iotag"
)

// Console handles interactive mode for storfab-sim.
type Console struct {
	adapter *adapter.Adapter
	host    *simharness.Host
	ctrl    *simharness.Controller
	rl      *readline.Instance

	// cmds tracks interactively submitted I/O, keyed by host tag and
	// queue, so they can be completed or flushed later.
	cmds []*iotag.Command
}

// New creates a new interactive console.
func New(a *adapter.Adapter, host *simharness.Host, ctrl *simharness.Controller) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "storfab> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{adapter: a, host: host, ctrl: ctrl, rl: rl}, nil
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "add":
			c.cmdAdd(args)

		case "rm":
			c.cmdRemove(args)

		case "hide":
			c.cmdHide(args, true)

		case "unhide":
			c.cmdHide(args, false)

		case "qd":
			c.cmdQD(args)

		case "io":
			c.cmdIO(args)

		case "reset":
			c.cmdReset(ctx)

		case "unrecov":
			c.cmdUnrecoverable(ctx)

		case "dump":
			c.cmdDump(args)

		case "exit", "quit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (try 'help')\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Storfab Simulator Commands:
  add <perst> <handle> [tg]  Attach a device (optional throttle group)
  rm <perst>                 Detach a device
  hide <perst>               Hide a device from the host
  unhide <perst>             Unhide a device
  qd <tg>                    Queue a depth reduction for a throttle group
  io <queue> <n>             Submit n simulated commands on a queue
  reset                      Run a soft controller reset
  unrecov                    Declare the controller unrecoverable and flush
  dump devices               Show the device registry
  dump events                Show the pending event queue
  dump io                    Show outstanding command count
  help, ?                    Show this help
  exit, quit, q              Exit`)
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	return uint16(n), err
}

func (c *Console) cmdAdd(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "usage: add <perst> <handle> [tg]")
		return
	}
	perst, err1 := parseUint16(args[0])
	handle, err2 := parseUint16(args[1])
	if err1 != nil || err2 != nil {
		fmt.Fprintln(c.rl.Stdout(), "invalid number")
		return
	}
	page := adapter.DevicePage{
		PersistentID: perst,
		Handle:       handle,
		QueueDepth:   64,
	}
	if len(args) > 2 {
		tg, err := strconv.ParseUint(args[2], 0, 8)
		if err != nil {
			fmt.Fprintln(c.rl.Stdout(), "invalid throttle group")
			return
		}
		page.ThrottleGroupID = uint8(tg)
		page.FwQueueDepth = 64
		page.ReductionFactor = 5
	}
	if _, err := c.ctrl.AttachDevice(c.adapter, page); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "attach failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "device %d attached (handle 0x%04x)\n", perst, handle)
}

func (c *Console) cmdRemove(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "usage: rm <perst>")
		return
	}
	perst, err := parseUint16(args[0])
	if err != nil {
		fmt.Fprintln(c.rl.Stdout(), "invalid number")
		return
	}
	if _, err := c.ctrl.DetachDevice(c.adapter, perst); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "detach failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "device %d detached\n", perst)
}

func (c *Console) cmdHide(args []string, hidden bool) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "usage: hide|unhide <perst>")
		return
	}
	perst, err := parseUint16(args[0])
	if err != nil {
		fmt.Fprintln(c.rl.Stdout(), "invalid number")
		return
	}
	if _, err := c.ctrl.SetDeviceHidden(c.adapter, perst, hidden); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "status change failed: %v\n", err)
	}
}

func (c *Console) cmdQD(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "usage: qd <tg>")
		return
	}
	tg, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		fmt.Fprintln(c.rl.Stdout(), "invalid throttle group")
		return
	}
	if c.adapter.QueueDepthReductionEvent(uint8(tg)) {
		fmt.Fprintln(c.rl.Stdout(), "reduction event queued")
	} else {
		fmt.Fprintln(c.rl.Stdout(), "reduction suppressed or group unknown")
	}
}

func (c *Console) cmdIO(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "usage: io <queue> <n>")
		return
	}
	queue, err1 := parseUint16(args[0])
	n, err2 := parseUint16(args[1])
	if err1 != nil || err2 != nil {
		fmt.Fprintln(c.rl.Stdout(), "invalid number")
		return
	}
	submitted := 0
	base := uint16(len(c.cmds))
	for i := uint16(0); i < n; i++ {
		cmd := &iotag.Command{}
		tag := c.adapter.Table().TagForCommand(cmd, queue, base+i)
		if tag == iotag.InvalidTag {
			break
		}
		c.cmds = append(c.cmds, cmd)
		submitted++
	}
	fmt.Fprintf(c.rl.Stdout(), "%d commands submitted on queue %d (outstanding %d)\n",
		submitted, queue, c.adapter.Table().Outstanding())
}

func (c *Console) cmdReset(ctx context.Context) {
	if err := c.adapter.Reset(ctx, c.ctrl.Revalidate(c.adapter)); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "reset failed: %v\n", err)
		return
	}
	c.cmds = nil
	fmt.Fprintf(c.rl.Stdout(), "reset complete, %d devices registered\n",
		c.adapter.Registry().Count())
}

func (c *Console) cmdUnrecoverable(ctx context.Context) {
	flushed, err := c.adapter.FlushForUnrecoverable(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "flush failed: %v\n", err)
		return
	}
	c.cmds = nil
	fmt.Fprintf(c.rl.Stdout(), "controller unrecoverable, %d commands flushed\n", flushed)
}

func (c *Console) cmdDump(args []string) {
	what := "devices"
	if len(args) > 0 {
		what = strings.ToLower(args[0])
	}
	out := c.rl.Stdout()

	switch what {
	case "devices":
		fmt.Fprintf(out, "%-8s %-8s %-16s %-8s %-8s %s\n",
			"PERST", "HANDLE", "STATE", "HIDDEN", "QD", "TG")
		c.adapter.Registry().ForEach(func(dev *device.TargetDevice) {
			info := dev.Snapshot()
			handle := fmt.Sprintf("0x%04x", info.Handle)
			if info.Handle == device.InvalidHandle {
				handle = "INVALID"
			}
			tg := "-"
			if info.ThrottleID >= 0 {
				tg = strconv.Itoa(info.ThrottleID)
			}
			fmt.Fprintf(out, "%-8d %-8s %-16s %-8v %-8d %s\n",
				info.PersistentID, handle, info.State, info.Hidden, info.QueueDepth, tg)
		})

	case "events":
		fmt.Fprintf(out, "pending events: %d\n", c.adapter.Queue().Len())

	case "io":
		fmt.Fprintf(out, "outstanding commands: %d\n", c.adapter.Table().Outstanding())

	default:
		fmt.Fprintln(out, "usage: dump devices|events|io")
	}
}
