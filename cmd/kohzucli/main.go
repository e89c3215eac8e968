// Command kohzucli is an interactive shell for driving a Kohzu ARIES/LYNX motion
// controller over TCP.
//
// Usage:
//
//	kohzucli [host [port [auto_reconnect]]]
//
// auto_reconnect accepts 0|1|true|false|yes|no. A YAML configuration file can be
// supplied through the KOHZU_CONFIG environment variable; positional arguments take
// precedence over both the file and the KOHZU_* environment overrides.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/abiosoft/ishell/v2"

	"github.com/arloliu/go-kohzu/kohzu"
	"github.com/arloliu/go-kohzu/logger"
	"github.com/arloliu/go-kohzu/protocol"
)

func main() {
	settings, err := loadSettings(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "kohzucli:", err)
		os.Exit(1)
	}

	if settings.debug {
		logger.SetLogger(logger.NewSlog(logger.DebugLevel))
	}

	cfg, err := kohzu.NewConfig(settings.host, settings.port, settings.opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kohzucli: invalid configuration:", err)
		os.Exit(1)
	}

	mgr, err := kohzu.NewManager(context.Background(), cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kohzucli:", err)
		os.Exit(1)
	}

	if len(settings.pollAxes) > 0 {
		mgr.SetPollAxes(settings.pollAxes)
	}

	shell := ishell.New()
	shell.Println("Kohzu ARIES/LYNX shell")
	shell.Printf("target %s:%d auto_reconnect=%v\n", settings.host, settings.port, settings.autoReconnect)

	mgr.RegisterConnectionHandler(func(connected bool, msg string) {
		if connected {
			shell.Println("[manager] connected:", msg)
		} else {
			shell.Println("[manager] disconnected:", msg)
		}
	})
	mgr.RegisterSpontaneousHandler(func(reply *protocol.Reply) {
		shell.Printf("[device] %c %s%s %v\n", reply.Type, reply.Cmd, reply.Axis, reply.Params)
	})

	connect := func(c *ishell.Context) {
		if mgr.IsConnected() {
			c.Println("already connected")
			return
		}
		if err := mgr.Start(); err != nil {
			c.Err(err)
			return
		}
		for i := 0; i < 50 && !mgr.IsConnected(); i++ {
			time.Sleep(100 * time.Millisecond)
		}
		if !mgr.IsConnected() {
			c.Println("not connected yet; the connection loop keeps retrying in the background")
		}
	}

	shell.AddCmd(&ishell.Cmd{
		Name: "connect",
		Help: "connect to the controller",
		Func: connect,
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "start",
		Help: "start the connection loop (alias of connect)",
		Func: connect,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "move",
		Help: "move abs <axis> <pos> | move rel <axis> <delta>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 3 {
				c.Println("usage: move abs <axis> <pos> | move rel <axis> <delta>")
				return
			}

			axis, err := strconv.Atoi(c.Args[1])
			if err != nil || axis < 1 {
				c.Println("invalid axis:", c.Args[1])
				return
			}
			value, err := strconv.ParseInt(c.Args[2], 10, 64)
			if err != nil {
				c.Println("invalid position:", c.Args[2])
				return
			}

			cb := func(reply *protocol.Reply, err error) {
				if err != nil {
					shell.Printf("[move] axis %d failed: %v\n", axis, err)
					return
				}
				shell.Printf("[move] axis %d done: %c %s%s\n", axis, reply.Type, reply.Cmd, reply.Axis)
			}

			switch c.Args[0] {
			case "abs":
				err = mgr.MoveAbsoluteAsync(axis, value, 0, 0, cb)
			case "rel":
				err = mgr.MoveRelativeAsync(axis, value, 0, 0, cb)
			default:
				c.Println("usage: move abs <axis> <pos> | move rel <axis> <delta>")
				return
			}
			if err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "poll",
		Help: "poll set <a,b,c> | poll add <axis> | poll rm <axis>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Println("usage: poll set <a,b,c> | poll add <axis> | poll rm <axis>")
				return
			}

			switch c.Args[0] {
			case "set":
				axes, err := parseAxisList(c.Args[1])
				if err != nil {
					c.Println(err)
					return
				}
				mgr.SetPollAxes(axes)
				c.Println("poll axes:", mgr.PollAxes())
			case "add":
				axis, err := strconv.Atoi(c.Args[1])
				if err != nil || axis < 1 {
					c.Println("invalid axis:", c.Args[1])
					return
				}
				mgr.AddPollAxis(axis)
				c.Println("poll axes:", mgr.PollAxes())
			case "rm":
				axis, err := strconv.Atoi(c.Args[1])
				if err != nil || axis < 1 {
					c.Println("invalid axis:", c.Args[1])
					return
				}
				mgr.RemovePollAxis(axis)
				c.Println("poll axes:", mgr.PollAxes())
			default:
				c.Println("usage: poll set <a,b,c> | poll add <axis> | poll rm <axis>")
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "print the last known state of every axis",
		Func: func(c *ishell.Context) {
			snapshot := mgr.SnapshotState()
			if len(snapshot) == 0 {
				c.Println("no axis state yet")
				return
			}

			axes := make([]int, 0, len(snapshot))
			for axis := range snapshot {
				axes = append(axes, axis)
			}
			sort.Ints(axes)

			for _, axis := range axes {
				state := snapshot[axis]
				pos := "?"
				if state.HasPosition {
					pos = strconv.FormatInt(state.Position, 10)
				}
				run := "?"
				if state.HasRunning {
					run = strconv.FormatBool(state.Running)
				}
				c.Printf("axis %d: position=%s running=%s age=%s\n",
					axis, pos, run, time.Since(state.UpdatedAt).Truncate(time.Millisecond))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "quit",
		Help: "stop the driver and exit",
		Func: func(c *ishell.Context) {
			shell.Stop()
		},
	})

	shell.Interrupt(func(c *ishell.Context, count int, input string) {
		shell.Println("interrupt, stopping")
		shell.Stop()
	})

	shell.Run()
	shell.Close()

	mgr.Stop()
	os.Exit(0)
}
