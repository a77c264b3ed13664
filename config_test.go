package mqtt311

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
client:
  command_timeout: 5s
  max_packet_size: 512
  max_handlers: 8
connect:
  client_id: sensor-7
  clean_session: false
  keep_alive: 30
  username: user
  password: secret
  will_topic: status/sensor-7
  will_message: offline
  will_qos: 1
  will_retained: true
`

	cfg, err := LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)

	opts := cfg.ConnectOptions()
	assert.Equal(t, "sensor-7", opts.ClientID)
	assert.False(t, opts.CleanSession)
	assert.Equal(t, uint16(30), opts.KeepAlive)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, []byte("secret"), opts.Password)
	assert.Equal(t, "status/sensor-7", opts.WillTopic)
	assert.Equal(t, []byte("offline"), opts.WillMessage)
	assert.Equal(t, byte(1), opts.WillQoS)
	assert.True(t, opts.WillRetained)

	assert.Len(t, cfg.ClientOptions(), 3)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`connect: {client_id: c}`))
	require.NoError(t, err)

	opts := cfg.ConnectOptions()
	assert.True(t, opts.CleanSession)
	assert.Equal(t, uint16(DefaultKeepAlive), opts.KeepAlive)

	assert.Empty(t, cfg.ClientOptions())
}

func TestLoadConfigKeepAliveZeroDisables(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`connect: {keep_alive: 0}`))
	require.NoError(t, err)
	assert.Equal(t, uint16(0), cfg.ConnectOptions().KeepAlive)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		_, err := LoadConfig(strings.NewReader(`bogus: 1`))
		assert.Error(t, err)
	})

	t.Run("bad will qos", func(t *testing.T) {
		_, err := LoadConfig(strings.NewReader(`connect: {will_qos: 3}`))
		assert.ErrorIs(t, err, ErrInvalidQoS)
	})
}
