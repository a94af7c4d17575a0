package connection

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tablekit/roomsync/pkg/constants"
)

// ConnectInfo is the persisted connection descriptor, loaded once at startup.
type ConnectInfo struct {
	Server               string `yaml:"server" env:"ROOMSYNC_SERVER" env-default:"ws://127.0.0.1:8000/socket"`
	SocketTimeoutSec     int    `yaml:"socketTimeout" env:"ROOMSYNC_SOCKET_TIMEOUT" env-default:"30"`
	ReconnectIntervalSec int    `yaml:"reconnectInterval" env:"ROOMSYNC_RECONNECT_INTERVAL" env-default:"5"`
}

// LoadConnectInfo reads the descriptor from a YAML file, with environment
// overrides. An empty path reads environment only.
func LoadConnectInfo(path string) (*ConnectInfo, error) {
	var info ConnectInfo
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&info)
	} else {
		err = cleanenv.ReadConfig(path, &info)
	}
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(info.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", info.Server, err)
	}
	if parsed.Scheme != constants.WebsocketScheme && parsed.Scheme != constants.SecureWebsocketScheme {
		return nil, fmt.Errorf("server url %q: scheme must be %s or %s",
			info.Server, constants.WebsocketScheme, constants.SecureWebsocketScheme)
	}
	return &info, nil
}

// SocketTimeout is the dial/handshake timeout. It never bounds a pending
// request: a reply that does not arrive keeps its caller pending.
func (ci ConnectInfo) SocketTimeout() time.Duration {
	sec := ci.SocketTimeoutSec
	if sec <= 0 {
		sec = constants.DefaultSocketTimeout
	}
	return time.Duration(sec) * time.Second
}

// ReconnectInterval is the delay between redial attempts after a lost
// connection.
func (ci ConnectInfo) ReconnectInterval() time.Duration {
	sec := ci.ReconnectIntervalSec
	if sec <= 0 {
		sec = 5
	}
	return time.Duration(sec) * time.Second
}
