package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/http"

	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/env"
	fx "github.com/robotalks/chainbus/pkg/framework"
	"github.com/robotalks/chainbus/pkg/metrics"
	"github.com/robotalks/chainbus/pkg/node"
	"github.com/robotalks/chainbus/pkg/radio"
	"github.com/robotalks/chainbus/pkg/radio/mqtt"
	"github.com/robotalks/chainbus/pkg/radio/stream"
	"github.com/robotalks/chainbus/pkg/radio/websocket"
	"github.com/robotalks/chainbus/pkg/sim"
)

var (
	radioStack = "mqtt"
	streamAddr = ":8091"
)

func init() {
	env.SetupFlags()
	flag.StringVar(&radioStack, "radio", radioStack, "Wireless stack: mqtt, websocket or stream")
	flag.StringVar(&streamAddr, "stream-addr", streamAddr, "TCP listen address of the stream stack")
}

func main() {
	flag.Parse()
	conf := env.Default()
	if err := conf.Validate(); err != nil {
		glog.Exit(err)
	}

	chain := sim.NewChain(packet.Location(conf.Last), func(nodeConf *node.Config) {
		*nodeConf = conf.NodeConfig(nodeConf.Local)
	})
	bridge := chain.Node(packet.LocRadio).Bridge
	mux := http.NewServeMux()

	registry := metrics.NewRegistry()
	registry.MustRegister(metrics.NewBusCollector(chain.Nodes...))
	mux.Handle("/metrics", metrics.Handler(registry))

	runner := fx.NewRunner().HandleSignals()
	switch radioStack {
	case "mqtt":
		conn, err := mqtt.Dial(conf.MQTTBrokerURL, "chainsim-"+conf.ID)
		if err != nil {
			glog.Exitf("mqtt: %v", err)
		}
		defer conn.Close()
		if err := startMQTT(conn, conf, bridge); err != nil {
			glog.Exitf("mqtt: %v", err)
		}
	case "websocket":
		stack := websocket.NewStack(bridge)
		bridge.Stack = stack
		mux.Handle("/radio", stack)
	case "stream":
		l, err := net.Listen("tcp", streamAddr)
		if err != nil {
			glog.Exitf("stream: %v", err)
		}
		stack := stream.NewStack(bridge)
		bridge.Stack = stack
		runner.Go(fx.NamedFunc("stream", func(ctx context.Context) error {
			return stack.ListenAndServe(ctx, l)
		}))
	default:
		glog.Exitf("unknown radio stack %q", radioStack)
	}

	if conf.ListenAddr != "" {
		server := &http.Server{Addr: conf.ListenAddr, Handler: mux}
		runner.Go(fx.NamedFunc("http", func(ctx context.Context) error {
			return fx.RunWithContextCloser(ctx, server, func() error {
				if err := server.ListenAndServe(); err != http.ErrServerClosed {
					return err
				}
				return nil
			})
		}))
	}

	runner.Add(chain)
	glog.Infof("chain %s: nodes 0..%d, radio over %s", conf.ID, conf.Last, radioStack)
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}

func startMQTT(conn *mqtt.Conn, conf *env.Config, bridge *radio.Bridge) error {
	meta, err := json.Marshal(mqtt.Meta{ID: conf.ID, Last: conf.Last})
	if err != nil {
		return err
	}
	if token := conn.PubWith(mqtt.NodeTopic(conf.ID, mqtt.TopicMeta), meta, 1, true); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	stack := mqtt.NewStack(conn, conf.ID, bridge)
	bridge.Stack = stack
	conn.OnLost = func(error) { stack.Suspend() }
	conn.OnConnect = stack.Resume
	return stack.Start()
}
