package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dcrodman/roost/internal/core/transport"
)

// Config contains all of the configuration options available to the server,
// the client and the tools that ship with them.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port on which the server will listen for connections.
	Port int `mapstructure:"port"`
	// Number of updates per second run by the server and client loops.
	TickRate int `mapstructure:"tick_rate"`
	// Maximum number of concurrent connections the server will allow. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	Transport struct {
		// How long a poll waits on an idle stream that is not a socket. Sockets
		// are checked without waiting.
		PollWait time.Duration `mapstructure:"poll_wait"`
		// Time allowed to receive the rest of a message once it started arriving.
		MessageTimeout time.Duration `mapstructure:"message_timeout"`
		// Largest message accepted from a peer, in bytes.
		MaxMessageSize int `mapstructure:"max_message_size"`
		// Time allowed to flush queued messages when a connection is closed.
		CloseTimeout time.Duration `mapstructure:"close_timeout"`
		// Messages read from one connection per tick. 0 reads everything available.
		MaxMessagesPerPoll int `mapstructure:"max_messages_per_poll"`
	} `mapstructure:"transport"`

	Replication struct {
		// Destroy the entities owned by a client when it disconnects.
		DestroyOwnedOnDisconnect bool `mapstructure:"destroy_owned_on_disconnect"`
		// Only run client calls on components owned by that client (or by nobody).
		EnforceOwnership bool `mapstructure:"enforce_ownership"`
		// How long destroyed entity ids are remembered for logging late calls.
		// 0 turns tombstones off.
		TombstoneTTL time.Duration `mapstructure:"tombstone_ttl"`
	} `mapstructure:"replication"`

	Client struct {
		// Address of the server the client connects to.
		ServerAddress string `mapstructure:"server_address"`
		// Time allowed to establish the connection.
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"client"`

	Database struct {
		// Record sessions and entities in a database.
		Enabled bool `mapstructure:"enabled"`
		// Either sqlite or postgres.
		Engine string `mapstructure:"engine"`
		// Database file used by the sqlite engine.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port of the debug HTTP server (pprof, metrics and entity dumps).
		HTTPPort int `mapstructure:"http_port"`
		// Log every datagram sent and received.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "ROOST"

var defaults = map[string]interface{}{
	"hostname":                                "0.0.0.0",
	"port":                                    11000,
	"tick_rate":                               60,
	"max_connections":                         64,
	"log_file_path":                           "",
	"log_level":                               "info",
	"transport.poll_wait":                     200 * time.Microsecond,
	"transport.message_timeout":               5 * time.Second,
	"transport.max_message_size":              16 * 1024 * 1024,
	"transport.close_timeout":                 2 * time.Second,
	"transport.max_messages_per_poll":         0,
	"replication.destroy_owned_on_disconnect": true,
	"replication.enforce_ownership":           true,
	"replication.tombstone_ttl":               30 * time.Second,
	"client.server_address":                   "127.0.0.1:11000",
	"client.connect_timeout":                  5 * time.Second,
	"database.enabled":                        false,
	"database.engine":                         "sqlite",
	"database.filename":                       "roost.db",
	"database.host":                           "localhost",
	"database.port":                           5432,
	"database.name":                           "roost",
	"database.username":                       "roost",
	"database.password":                       "",
	"database.sslmode":                        "disable",
	"debugging.enabled":                       false,
	"debugging.http_port":                     4040,
	"debugging.packet_logging_enabled":        false,
	"debugging.database_logging_enabled":      false,
}

// LoadConfig reads config.yaml from configPath on top of the defaults. A
// missing file is not an error; every key can also be set from the environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := envVarPrefix + "_" + strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshaling config object: %w", err)
	}
	return config, nil
}

// ServerAddress is the address the server listens on.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// TickInterval is the time between two updates of a service loop.
func (c *Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.TickRate)
}

// TransportOptions returns the framing options for new connections.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		PollWait:       c.Transport.PollWait,
		MessageTimeout: c.Transport.MessageTimeout,
		MaxMessageSize: c.Transport.MaxMessageSize,
		CloseTimeout:   c.Transport.CloseTimeout,
	}
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}
