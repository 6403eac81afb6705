package bridge

import (
	"errors"
	"log/slog"
	"time"

	"github.com/spetersoncode/adkbridge"
	"github.com/spetersoncode/adkbridge/adk"
	"github.com/spetersoncode/adkbridge/agui"
	"github.com/spetersoncode/adkbridge/session"
)

// Configuration errors.
var (
	ErrAppNameConflict = errors.New("cannot specify both WithAppName and WithAppNameExtractor")
	ErrUserIDConflict  = errors.New("cannot specify both WithUserID and WithUserIDExtractor")
	ErrNilAgent        = errors.New("agent is required")
	ErrNilRunner       = errors.New("runner factory is required")
)

type config struct {
	appName          string
	appNameExtractor func(*agui.RunAgentInput) string
	userID           string
	userIDExtractor  func(*agui.RunAgentInput) string

	sessionService   adk.SessionService
	memoryService    adk.MemoryService
	runConfigFactory func(*agui.RunAgentInput) adk.RunConfig

	sessionTimeout   time.Duration
	cleanupInterval  time.Duration
	executionTimeout time.Duration
	toolTimeout      time.Duration
	maxConcurrent    int

	predictState         []adkbridge.PredictStateMapping
	emitMessagesSnapshot bool

	logger *slog.Logger
}

func defaultConfig() config {
	return config{
		sessionTimeout:   20 * time.Minute,
		cleanupInterval:  5 * time.Minute,
		executionTimeout: 10 * time.Minute,
		toolTimeout:      5 * time.Minute,
		maxConcurrent:    10,
		logger:           slog.Default(),
	}
}

func (c config) validate() error {
	if c.appName != "" && c.appNameExtractor != nil {
		return ErrAppNameConflict
	}
	if c.userID != "" && c.userIDExtractor != nil {
		return ErrUserIDConflict
	}
	return nil
}

// Option configures a Bridge.
type Option func(*config)

// WithAppName sets a static app name for all requests. Mutually exclusive
// with WithAppNameExtractor; default is the agent's name.
func WithAppName(name string) Option {
	return func(c *config) { c.appName = name }
}

// WithAppNameExtractor derives the app name from each request.
func WithAppNameExtractor(fn func(*agui.RunAgentInput) string) Option {
	return func(c *config) { c.appNameExtractor = fn }
}

// WithUserID sets a static user id for all requests. Mutually exclusive with
// WithUserIDExtractor; default is "thread_user_" plus the thread id.
func WithUserID(id string) Option {
	return func(c *config) { c.userID = id }
}

// WithUserIDExtractor derives the user id from each request.
func WithUserIDExtractor(fn func(*agui.RunAgentInput) string) Option {
	return func(c *config) { c.userIDExtractor = fn }
}

// WithSessionService sets the backing session store. Defaults to in-memory.
func WithSessionService(svc adk.SessionService) Option {
	return func(c *config) { c.sessionService = svc }
}

// WithMemoryService forwards evicted sessions to long-term memory.
func WithMemoryService(svc adk.MemoryService) Option {
	return func(c *config) { c.memoryService = svc }
}

// WithRunConfigFactory customizes the runtime run config per request.
func WithRunConfigFactory(fn func(*agui.RunAgentInput) adk.RunConfig) Option {
	return func(c *config) { c.runConfigFactory = fn }
}

// WithSessionTimeout sets the idle session eviction threshold. Default 20m.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *config) { c.sessionTimeout = d }
}

// WithCleanupInterval sets the session sweep period. Default 5m.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// WithExecutionTimeout aborts executions that run longer. Default 10m.
func WithExecutionTimeout(d time.Duration) Option {
	return func(c *config) { c.executionTimeout = d }
}

// WithToolTimeout bounds individual tool invocations. Default 5m.
func WithToolTimeout(d time.Duration) Option {
	return func(c *config) { c.toolTimeout = d }
}

// WithMaxConcurrentExecutions caps active background runs. Default 10.
func WithMaxConcurrentExecutions(n int) Option {
	return func(c *config) { c.maxConcurrent = n }
}

// WithPredictState configures predictive state mappings for streaming tool
// arguments into frontend state.
func WithPredictState(mappings []adkbridge.PredictStateMapping) Option {
	return func(c *config) { c.predictState = adkbridge.NormalizePredictState(mappings) }
}

// WithMessagesSnapshot emits a MESSAGES_SNAPSHOT with the full conversation
// at the end of each run. Default off.
func WithMessagesSnapshot(enabled bool) Option {
	return func(c *config) { c.emitMessagesSnapshot = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func (c config) newSessionManager() *session.Manager {
	opts := []session.Option{
		session.WithSessionTimeout(c.sessionTimeout),
		session.WithCleanupInterval(c.cleanupInterval),
		session.WithLogger(c.logger),
	}
	if c.memoryService != nil {
		opts = append(opts, session.WithMemoryService(c.memoryService))
	}
	return session.NewManager(c.sessionService, opts...)
}
