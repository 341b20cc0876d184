package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/chainbus/pkg/bus/packet"
)

func TestLoadEnv(t *testing.T) {
	vars := map[string]string{
		"CHAINBUS_ID":            "bot",
		"CHAINBUS_MQTT_URL":      "mqtt://broker:1883/x/",
		"CHAINBUS_LAST":          "3",
		"CHAINBUS_POLL_INTERVAL": "2ms",
		"CHAINBUS_FLUSH_DELAY":   "bad",
	}
	conf := NewConfig()
	loadEnv(conf, func(key string) string { return vars[key] })
	require.Equal(t, "bot", conf.ID)
	require.Equal(t, "mqtt://broker:1883/x/", conf.MQTTBrokerURL)
	require.Equal(t, 3, conf.Last)
	require.Equal(t, 2*time.Millisecond, conf.PollInterval)
	require.Equal(t, Default().FlushDelay, conf.FlushDelay)
	require.NoError(t, conf.Validate())

	nodeConf := conf.NodeConfig(packet.LocRadio)
	require.True(t, nodeConf.RadioEnd)
	require.Equal(t, packet.LocNode3, nodeConf.Last)
	require.Equal(t, 2*time.Millisecond, nodeConf.PollInterval)
	require.False(t, conf.NodeConfig(packet.LocNode1).RadioEnd)
}

func TestValidate(t *testing.T) {
	conf := NewConfig()
	conf.Last = 4
	require.Error(t, conf.Validate())
	conf.Last = 1
	conf.HandshakeSpins = 0
	require.Error(t, conf.Validate())
}

func TestMachineID(t *testing.T) {
	require.NotEmpty(t, MachineID())
	require.NotEmpty(t, Default().ID)
}
