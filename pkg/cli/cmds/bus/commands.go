package bus

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/cli/sh"
	"github.com/robotalks/chainbus/pkg/command"
	"github.com/robotalks/chainbus/pkg/node"
)

var (
	// SendCmd sends text to the serial tunnel of a node.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "DEST TEXT...",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(errUsage("send DEST TEXT..."))
				return
			}
			dest, err := sh.ParseLocation(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			text := strings.Join(c.Args[1:], " ")
			if err := sh.ShellFrom(c).Peer.SendSerial(dest, []byte(text)); err != nil {
				c.Err(err)
			}
		}),
	}

	// PingCmd measures the round trip of a ping command.
	PingCmd = ishell.Cmd{
		Name:    "ping",
		Aliases: []string{"p"},
		Help:    "DEST [HEX]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(errUsage("ping DEST [HEX]"))
				return
			}
			dest, err := sh.ParseLocation(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			var args []byte
			if len(c.Args) > 1 {
				if args, err = hex.DecodeString(c.Args[1]); err != nil {
					c.Err(err)
					return
				}
			}
			s := sh.ShellFrom(c)
			ctx, cancel := s.Context()
			defer cancel()
			start := time.Now()
			reply, err := s.Peer.Command(ctx, dest, command.CodePing, args)
			if err != nil {
				c.Err(err)
				return
			}
			rtt := time.Since(start)
			echo := reply.Body()[1:]
			sh.Output(c, struct {
				Dest packet.Location `json:"dest"`
				RTT  time.Duration   `json:"rtt_ns"`
				Echo []byte          `json:"echo"`
			}{dest, rtt, echo}, "reply from %d: %v % x", dest, rtt, echo)
		}),
	}

	// InfoCmd queries the configuration of a node.
	InfoCmd = ishell.Cmd{
		Name:    "info",
		Aliases: []string{"i"},
		Help:    "DEST",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(errUsage("info DEST"))
				return
			}
			dest, err := sh.ParseLocation(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			s := sh.ShellFrom(c)
			ctx, cancel := s.Context()
			defer cancel()
			reply, err := s.Peer.Command(ctx, dest, command.CodeInfo, nil)
			if err != nil {
				c.Err(err)
				return
			}
			info, err := node.ParseInfo(reply.Body()[1:])
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, info, "node %d of 0..%d radio-end=%v downstream=%v",
				info.Local, info.Last, info.RadioEnd, info.Downstream)
		}),
	}
)

type errUsage string

func (e errUsage) Error() string {
	return "usage: " + string(e)
}

func init() {
	sh.AddCmds(
		&SendCmd,
		&PingCmd,
		&InfoCmd,
	)
}
