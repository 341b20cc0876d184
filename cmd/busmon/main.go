package main

import (
	"flag"
	"log"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/env"
	"github.com/robotalks/chainbus/pkg/radio/mqtt"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	conf := env.Default()
	conn, err := mqtt.Dial(conf.MQTTBrokerURL, "busmon-"+conf.ID)
	if err != nil {
		log.Fatalln(err)
	}

	monitor := func(topic string, payload []byte) {
		envelope, err := mqtt.DecodeEnvelope(payload)
		if err != nil {
			log.Printf("%s: bad envelope: %v", topic, err)
			return
		}
		pkt := packet.New(envelope.Value)
		if pkt.Type() == packet.TypeSerial {
			log.Printf("%s: %v %q", topic, pkt, pkt.Body())
			return
		}
		log.Printf("%s: %v", topic, pkt)
	}
	conn.Sub(mqtt.NodeTopic("+", mqtt.TopicNotify), monitor)
	conn.Sub(mqtt.NodeTopic("+", mqtt.TopicWrite), monitor)
	conn.Sub(mqtt.NodeTopic("+", mqtt.TopicCCCD), func(topic string, payload []byte) {
		log.Printf("%s: % x", topic, payload)
	})
	conn.Sub(mqtt.NodeTopic("+", mqtt.TopicMeta), func(topic string, payload []byte) {
		log.Printf("%s: %s", topic, string(payload))
	})
	<-(chan struct{})(nil)
}
