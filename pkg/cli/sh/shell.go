// Package sh provides an interactive shell acting as the wireless peer
// of a chain reachable through an MQTT broker.
package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/env"
	"github.com/robotalks/chainbus/pkg/radio/mqtt"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	ChainID     string
	Timeout     time.Duration

	Shell  *ishell.Shell
	Config *env.Config
	Conn   *mqtt.Conn
	Peer   *Peer

	lock sync.Mutex
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "

	// DefaultTimeout is how long to wait for replies and discovery.
	DefaultTimeout = time.Second
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	chainID    string

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.StringVar(&chainID, "chain", chainID, "Connect the chain with the ID on start.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		ChainID:     chainID,
		Timeout:     DefaultTimeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Peer == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// ParseLocation parses a node location argument.
func ParseLocation(arg string) (packet.Location, error) {
	n, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid location %q", arg)
	}
	if n > uint64(packet.LocMax) {
		return 0, fmt.Errorf("location %d out of range 0..%d", n, packet.LocMax)
	}
	return packet.Location(n), nil
}

// Output prints v in JSON if requested, otherwise the formatted text.
func Output(c *ishell.Context, v interface{}, format string, args ...interface{}) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Printf(format+"\n", args...)
}

// Context creates a context bounded by the shell timeout.
func (s *Shell) Context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.Timeout)
}

// Broker returns the broker connection, dialing it on first use.
func (s *Shell) Broker() (*mqtt.Conn, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.Conn != nil {
		return s.Conn, nil
	}
	conn, err := mqtt.Dial(s.Config.MQTTBrokerURL, "buscli-"+s.Config.ID)
	if err != nil {
		return nil, err
	}
	s.Conn = conn
	return conn, nil
}

// Discover collects the retained meta of chains on the broker.
func (s *Shell) Discover() ([]mqtt.Meta, error) {
	conn, err := s.Broker()
	if err != nil {
		return nil, err
	}
	var lock sync.Mutex
	found := make(map[string]mqtt.Meta)
	sub := conn.Sub(mqtt.NodeTopic("+", mqtt.TopicMeta), func(topic string, payload []byte) {
		var meta mqtt.Meta
		if err := json.Unmarshal(payload, &meta); err != nil {
			return
		}
		if meta.ID == "" {
			meta.ID = mqtt.NodeFromTopic(topic)
		}
		lock.Lock()
		found[meta.ID] = meta
		lock.Unlock()
	})
	defer sub.Close()
	if sub.Token.Wait() && sub.Token.Error() != nil {
		return nil, sub.Token.Error()
	}
	time.Sleep(s.Timeout)

	lock.Lock()
	defer lock.Unlock()
	list := make([]mqtt.Meta, 0, len(found))
	for _, meta := range found {
		list = append(list, meta)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// SelectChain discovers chains and asks for a choice.
func (s *Shell) SelectChain() (string, error) {
	list, err := s.Discover()
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", fmt.Errorf("no chain discovered")
	}
	var index int
	if len(list) > 1 {
		if !s.Interactive {
			return "", fmt.Errorf("more than 1 chains discovered in non-interactive mode")
		}
		items := make([]string, len(list))
		for n, meta := range list {
			items[n] = FormatMeta(meta)
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
	}
	return list[index].ID, nil
}

// FormatMeta prints Meta into friendly string for display.
func FormatMeta(meta mqtt.Meta) string {
	return fmt.Sprintf("%s: nodes 0..%d", meta.ID, meta.Last)
}

// Connect becomes the wireless peer of the chain.
func (s *Shell) Connect(id string) error {
	conn, err := s.Broker()
	if err != nil {
		return err
	}
	s.Disconnect()
	peer := NewPeer(conn, id)
	peer.OnPacket = s.printPacket
	if err := peer.Open(); err != nil {
		return err
	}
	s.Peer = peer
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", id))
	return nil
}

// Disconnect leaves current chain.
func (s *Shell) Disconnect() {
	if s.Peer != nil {
		if err := s.Peer.Close(); err != nil {
			s.Shell.Printf("disconnect: %v\n", err)
		}
		s.Peer = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

func (s *Shell) printPacket(pkt packet.Packet) {
	if s.OutputJSON {
		out, err := json.Marshal(struct {
			Source packet.Location `json:"source"`
			Type   string          `json:"type"`
			Data   []byte          `json:"data"`
		}{pkt.Source(), pkt.Type().String(), pkt.Body()})
		if err == nil {
			s.Shell.Println(string(out))
		}
		return
	}
	if pkt.Type() == packet.TypeSerial {
		s.Shell.Printf("[%d] %s\n", pkt.Source(), string(pkt.Body()))
		return
	}
	s.Shell.Printf("[%d] %v\n", pkt.Source(), pkt)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.ChainID != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.ChainID)
		}
		if err := s.Connect(s.ChainID); err != nil {
			log.Fatalf("connect %q failed: %v", s.ChainID, err)
		}
	}
	defer func() {
		s.Disconnect()
		if s.Conn != nil {
			s.Conn.Close()
		}
	}()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd discovers chains.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			list, err := s.Discover()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				out, err := json.Marshal(list)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(list) == 0 {
				c.Println("No chains found")
				return
			}
			for _, meta := range list {
				c.Println(FormatMeta(meta))
			}
		},
	}

	// ConnectCmd connects a chain.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[ID]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var id string
			if len(c.Args) > 0 {
				id = c.Args[0]
			} else {
				var err error
				if id, err = s.SelectChain(); err != nil {
					c.Err(err)
					return
				}
			}
			if err := s.Connect(id); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current chain.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	env.SetupFlags()
	flag.Parse()
	New(env.NewConfig()).Run(flag.Args()...)
}
