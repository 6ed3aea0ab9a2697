package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and per-system connection rules.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Unknown system.
	err := Validate(&Config{System: "Galaxy", GatewayID: "1"})
	require.Error(t, err)

	// Missing gateway id.
	err = Validate(&Config{System: SystemProton})
	require.ErrorIs(t, err, errGatewayIDRequired)

	// Proton without an endpoint.
	err = Validate(&Config{System: SystemProton, GatewayID: "1"})
	require.ErrorIs(t, err, errConnectionRequired)

	// Mirazh needs its database.
	err = Validate(&Config{
		System:     SystemMirazh,
		GatewayID:  "1",
		Connection: Connection{Host: "10.0.0.1", Port: 6000},
	})
	require.ErrorIs(t, err, errPostgresRequired)

	// Bad gRPC address.
	err = Validate(&Config{
		System:     SystemProton,
		GatewayID:  "1",
		Connection: Connection{Host: "10.0.0.1", Port: 5000},
		GRPCListen: "no-port",
	})
	require.Error(t, err)

	// Tandem defaults its ports.
	settings := &Config{
		System:     SystemTandem,
		GatewayID:  "7",
		Connection: Connection{Host: "10.0.0.2"},
	}
	require.NoError(t, Validate(settings))
	require.Equal(t, DefaultTandemUDPPort, settings.Connection.UDPPort)
	require.Equal(t, DefaultTandemUDPPort, settings.Connection.Port)
}

// TestValidate_Defaults ensures protocol timers fall back to their defaults.
func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	settings := &Config{
		System:     SystemProton,
		Namespace:  "ns",
		Region:     "r1",
		GatewayID:  "gw",
		Connection: Connection{Host: "127.0.0.1", Port: 5000},
		Timing:     Timing{RequestAttempts: 5, PingPeriod: time.Second},
	}

	require.NoError(t, Validate(settings))
	require.Equal(t, DefaultRequestTimeout, settings.Timing.RequestTimeout)
	require.Equal(t, DefaultDedupWindow, settings.Timing.DedupWindow)
	require.Equal(t, time.Second, settings.Timing.PingPeriod)
	require.Equal(t, 5, settings.Timing.RequestAttempts)
	require.Equal(t, 1, settings.Connection.SystemNumber)
	require.Equal(t, "ns_Proton_r1_gw", settings.MQTT.ClientID)
	require.Equal(t, "127.0.0.1:5000", settings.Connection.Address())
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		System:       SystemProton,
		GatewayID:    "gw-1",
		Connection:   Connection{Host: "127.0.0.1", Port: 5000, Login: "user"},
		AllowedUsers: []int{5, 6},
		MQTT:         MQTT{Servers: []string{"tcp://127.0.0.1:1883"}},
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.Connection, loaded.Connection)
	require.Equal(t, settings.AllowedUsers, loaded.AllowedUsers)
	require.Equal(t, settings.MQTT.Servers, loaded.MQTT.Servers)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.Error(t, Save(path, nil))
}
