package mqttc

import (
	"crypto/tls"
	"errors"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Configuration errors.
var (
	ErrInvalidPort     = errors.New("mqttc: port must be nonzero")
	ErrInvalidHost     = errors.New("mqttc: host is required")
	ErrInvalidIdentity = errors.New("mqttc: identifier is required")
)

// BackoffStrategy computes the next reconnect backoff duration. It
// receives the current attempt number (1-based), the previous backoff
// duration, and the error from the last connection attempt.
type BackoffStrategy func(attempt int, currentBackoff time.Duration, err error) time.Duration

// clientOptions holds configuration for a Client. Constructed only
// through applyOptions; fields are unexported so every setting goes
// through a validated Option.
type clientOptions struct {
	host             string
	port             uint16
	useSSL           bool
	tlsConfiguration *tls.Config
	useWebSockets    bool
	webSocketURLPath string
	sniServerName    string
	timeout          time.Duration
	identifier       string

	cleanSession bool
	keepAlive    uint16
	username     string
	password     []byte

	will *WillMessage

	writeTimeout time.Duration
	readTimeout  time.Duration

	maxPacketSize uint32

	onEvent EventHandler

	servers []string

	autoReconnect    bool
	maxReconnects    int
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	backoffStrategy  BackoffStrategy

	producerInterceptors []ProducerInterceptor
	consumerInterceptors []ConsumerInterceptor

	publishLimiter *rate.Limiter

	ocspVerifier *OCSPVerifier

	dialer Dialer

	logger  Logger
	metrics *ClientMetrics
}

// EventHandler is the type of the handler stored by OnEvent. The client
// does not invoke it: no reconnect, disconnect, or inbound PUBLISH
// notification is passed to it.
type EventHandler func(event any)

func defaultOptions() *clientOptions {
	return &clientOptions{
		port:             1883,
		webSocketURLPath: "/mqtt",
		cleanSession:     true,
		keepAlive:        60,
		maxPacketSize:    DefaultMaxPacketSize,
		maxReconnects:    -1,
		reconnectBackoff: time.Second,
		maxBackoff:       time.Minute,
		logger:           &NoOpLogger{},
		metrics:          NewClientMetrics(nil),
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithHost sets the broker host.
func WithHost(host string) Option {
	return func(o *clientOptions) { o.host = host }
}

// WithPort sets the broker port. A port of 0 is rejected at
// construction (see validate).
func WithPort(port uint16) Option {
	return func(o *clientOptions) { o.port = port }
}

// WithSSL enables a TLS transport, optionally with an explicit
// *tls.Config. A nil config uses Go's TLS defaults.
func WithSSL(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.useSSL = true
		o.tlsConfiguration = config
	}
}

// WithWebSockets tunnels the connection over a WebSocket with the
// given URL path (default "/mqtt") and subprotocol "mqtt".
func WithWebSockets(urlPath string) Option {
	return func(o *clientOptions) {
		o.useWebSockets = true
		if urlPath != "" {
			o.webSocketURLPath = urlPath
		}
	}
}

// WithSNIServerName overrides the TLS ServerName used during the
// handshake, distinct from the dial host (for brokers behind a load
// balancer or SNI-based router).
func WithSNIServerName(name string) Option {
	return func(o *clientOptions) { o.sniServerName = name }
}

// WithTimeout sets the request timeout applied to connect and to each
// publish/subscribe/unsubscribe/pingreq call. Zero means wait
// forever.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithIdentifier sets the client identifier sent in CONNECT.
func WithIdentifier(id string) Option {
	return func(o *clientOptions) { o.identifier = id }
}

// WithCleanSession sets the CONNECT clean-session flag.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) { o.cleanSession = clean }
}

// WithKeepAlive sets the keep-alive interval in seconds.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) { o.keepAlive = seconds }
}

// WithCredentials sets the username and password carried in CONNECT.
func WithCredentials(username string, password []byte) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = password
	}
}

// WithWill sets the will message published by the broker if the
// client disconnects ungracefully.
func WithWill(will *WillMessage) Option {
	return func(o *clientOptions) { o.will = will }
}

// WithWriteTimeout bounds a single write to the transport.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.writeTimeout = d }
}

// WithReadTimeout bounds a single read from the transport.
func WithReadTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.readTimeout = d }
}

// WithMaxPacketSize sets the largest inbound packet the framer will
// accept before failing the connection. Values above
// DefaultMaxPacketSize (the protocol's own varint ceiling) are
// clamped.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		if size > DefaultMaxPacketSize {
			size = DefaultMaxPacketSize
		}
		o.maxPacketSize = size
	}
}

// OnEvent stores handler in the client options. The client never calls
// it; reconnects, disconnects, and unclaimed inbound PUBLISH packets are
// not reported through it.
func OnEvent(handler EventHandler) Option {
	return func(o *clientOptions) { o.onEvent = handler }
}

// WithServers adds candidate broker addresses ("host:port") tried in
// round-robin order on connect and reconnect, in addition to
// WithHost/WithPort.
func WithServers(servers ...string) Option {
	return func(o *clientOptions) {
		o.servers = append(o.servers, servers...)
	}
}

// WithAutoReconnect enables automatic reconnection with exponential
// backoff after an unexpected connection loss.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) { o.autoReconnect = enabled }
}

// WithMaxReconnects caps the number of reconnect attempts. -1 means
// unlimited.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) { o.maxReconnects = n }
}

// WithReconnectBackoff sets the initial backoff between reconnect
// attempts.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *clientOptions) { o.reconnectBackoff = d }
}

// WithMaxBackoff caps the backoff between reconnect attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *clientOptions) { o.maxBackoff = d }
}

// WithBackoffStrategy overrides the default doubling-with-cap
// reconnect backoff.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) { o.backoffStrategy = strategy }
}

// WithProducerInterceptors appends interceptors run, in order, before
// a message is published.
func WithProducerInterceptors(interceptors ...ProducerInterceptor) Option {
	return func(o *clientOptions) {
		o.producerInterceptors = append(o.producerInterceptors, interceptors...)
	}
}

// WithConsumerInterceptors appends interceptors run, in order, before
// an inbound message is delivered.
func WithConsumerInterceptors(interceptors ...ConsumerInterceptor) Option {
	return func(o *clientOptions) {
		o.consumerInterceptors = append(o.consumerInterceptors, interceptors...)
	}
}

// WithPublishRateLimit caps outbound Publish calls to a token-bucket
// rate of messagesPerSecond with the given burst size. Publish blocks
// until a token is available rather than failing immediately.
func WithPublishRateLimit(messagesPerSecond float64, burst int) Option {
	return func(o *clientOptions) {
		o.publishLimiter = rate.NewLimiter(rate.Limit(messagesPerSecond), burst)
	}
}

// WithOCSPVerifier enables broker-certificate revocation checking
// during the TLS handshake.
func WithOCSPVerifier(v *OCSPVerifier) Option {
	return func(o *clientOptions) { o.ocspVerifier = v }
}

// WithDialer overrides the transport entirely, bypassing
// useSSL/useWebSockets scheme selection. Use this to dial over QUIC,
// a Unix domain socket, or a SOCKS5/HTTP-CONNECT proxy.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithLogger sets the logger used for connection lifecycle and error
// reporting.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. A nil Metrics falls back to
// NoOpMetrics.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) { o.metrics = NewClientMetrics(m) }
}

// applyOptions applies options over the defaults and validates the
// result.
func applyOptions(opts ...Option) (*clientOptions, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options, options.validate()
}

// validate rejects configurations the client cannot open a connection
// with. port=0 is rejected outright rather than silently derived from
// useSSL.
func (o *clientOptions) validate() error {
	if o.host == "" && len(o.servers) == 0 {
		return ErrInvalidHost
	}
	if o.port == 0 {
		return ErrInvalidPort
	}
	if o.identifier == "" {
		return ErrInvalidIdentity
	}
	if o.will != nil {
		if err := o.will.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// yamlConnectionSettings mirrors the subset of clientOptions that can
// be expressed as flat YAML scalars, for deployments that keep broker
// connection settings in a config file alongside everything else.
type yamlConnectionSettings struct {
	Host             string `yaml:"host"`
	Port             uint16 `yaml:"port"`
	UseSSL           bool   `yaml:"use_ssl"`
	UseWebSockets    bool   `yaml:"use_websockets"`
	WebSocketURLPath string `yaml:"websocket_url_path"`
	SNIServerName    string `yaml:"sni_server_name"`
	Timeout          string `yaml:"timeout"`
	Identifier       string `yaml:"identifier"`
	CleanSession     *bool  `yaml:"clean_session"`
	KeepAlive        uint16 `yaml:"keep_alive"`
	Username         string `yaml:"username"`
}

// LoadOptionsFromYAML decodes a YAML document of connection settings
// into Options. Fields absent from the document are left at their
// zero value and do not override earlier options in the returned
// slice's application order.
func LoadOptionsFromYAML(doc []byte) ([]Option, error) {
	var settings yamlConnectionSettings
	if err := yaml.Unmarshal(doc, &settings); err != nil {
		return nil, err
	}

	var opts []Option
	if settings.Host != "" {
		opts = append(opts, WithHost(settings.Host))
	}
	if settings.Port != 0 {
		opts = append(opts, WithPort(settings.Port))
	}
	if settings.UseSSL {
		opts = append(opts, WithSSL(nil))
	}
	if settings.UseWebSockets {
		opts = append(opts, WithWebSockets(settings.WebSocketURLPath))
	}
	if settings.SNIServerName != "" {
		opts = append(opts, WithSNIServerName(settings.SNIServerName))
	}
	if settings.Timeout != "" {
		d, err := time.ParseDuration(settings.Timeout)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTimeout(d))
	}
	if settings.Identifier != "" {
		opts = append(opts, WithIdentifier(settings.Identifier))
	}
	if settings.CleanSession != nil {
		opts = append(opts, WithCleanSession(*settings.CleanSession))
	}
	if settings.KeepAlive != 0 {
		opts = append(opts, WithKeepAlive(settings.KeepAlive))
	}
	if settings.Username != "" {
		opts = append(opts, WithCredentials(settings.Username, nil))
	}

	return opts, nil
}
