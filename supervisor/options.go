package supervisor

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randalmurphal/agentdeck/claudecontract"
	"github.com/randalmurphal/agentdeck/model"
	"github.com/randalmurphal/agentdeck/notify"
)

// PermissionTransport selects how a session's process asks for approvals.
type PermissionTransport string

// Permission transports.
const (
	TransportNone PermissionTransport = ""
	TransportFS   PermissionTransport = "fs"
	TransportHTTP PermissionTransport = "http"
)

// Option configures a Supervisor.
type Option func(*config)

type config struct {
	binary          string
	extraArgs       []string
	extraEnv        map[string]string
	defaultModel    string
	partialMessages bool
	promptTool      string
	mcpConfig       string

	stopGrace    time.Duration
	restartDelay time.Duration
	stderrLimit  int

	transport   PermissionTransport
	dropBoxRoot string
	dropTimeout time.Duration
	hookURL     string

	prices     model.PriceTable
	logger     *slog.Logger
	sink       notify.Sink
	spawner    Spawner
	registerer prometheus.Registerer
	now        func() time.Time
	newID      func() string
}

func defaultConfig() config {
	return config{
		binary:          claudecontract.DefaultBinary,
		partialMessages: true,
		stopGrace:       time.Second,
		restartDelay:    100 * time.Millisecond,
		stderrLimit:     64 * 1024,
		dropTimeout:     60 * time.Second,
		prices:          model.DefaultPrices(),
		logger:          slog.Default(),
		sink:            notify.Discard,
		spawner:         ExecSpawner{},
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// WithBinary sets the agent executable.
func WithBinary(path string) Option {
	return func(c *config) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithExtraArgs appends arguments to every invocation.
func WithExtraArgs(args ...string) Option {
	return func(c *config) { c.extraArgs = append(c.extraArgs, args...) }
}

// WithEnv adds environment variables to every invocation.
func WithEnv(env map[string]string) Option {
	return func(c *config) {
		if c.extraEnv == nil {
			c.extraEnv = make(map[string]string, len(env))
		}
		for k, v := range env {
			c.extraEnv[k] = v
		}
	}
}

// WithDefaultModel sets the model of sessions created without one.
func WithDefaultModel(m string) Option {
	return func(c *config) { c.defaultModel = m }
}

// WithPartialMessages toggles --include-partial-messages. Default on.
func WithPartialMessages(on bool) Option {
	return func(c *config) { c.partialMessages = on }
}

// WithPermissionPromptTool routes approvals through the named MCP tool,
// optionally loaded from mcpConfig.
func WithPermissionPromptTool(tool, mcpConfig string) Option {
	return func(c *config) {
		c.promptTool = tool
		c.mcpConfig = mcpConfig
	}
}

// WithStopGrace sets how long a stopped process may take to exit before SIGKILL.
func WithStopGrace(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.stopGrace = d
		}
	}
}

// WithRestartDelay sets the pause between stopping a process and starting its replacement.
func WithRestartDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.restartDelay = d
		}
	}
}

// WithStderrLimit bounds how much stderr is kept per run.
func WithStderrLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.stderrLimit = n
		}
	}
}

// WithDropBox selects the filesystem permission transport, with one
// directory per session under root.
func WithDropBox(root string, timeout time.Duration) Option {
	return func(c *config) {
		c.transport = TransportFS
		c.dropBoxRoot = root
		if timeout > 0 {
			c.dropTimeout = timeout
		}
	}
}

// WithHTTPHook selects the HTTP permission transport. url is passed to the
// process; the hook itself is attached with Supervisor.AttachTransport.
func WithHTTPHook(url string) Option {
	return func(c *config) {
		c.transport = TransportHTTP
		c.hookURL = url
	}
}

// WithPrices sets the price table.
func WithPrices(p model.PriceTable) Option {
	return func(c *config) {
		if p != nil {
			c.prices = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNotifier sets the notification sink. It is called with the supervisor
// lock held and must not block.
func WithNotifier(s notify.Sink) Option {
	return func(c *config) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithSpawner replaces process creation, mainly for tests.
func WithSpawner(sp Spawner) Option {
	return func(c *config) {
		if sp != nil {
			c.spawner = sp
		}
	}
}

// WithRegisterer registers the supervisor's metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator sets the session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(c *config) {
		if gen != nil {
			c.newID = gen
		}
	}
}
