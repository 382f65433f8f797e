package autoflow

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/autoflow/autoflow/internal/email"
	"github.com/autoflow/autoflow/internal/engine"
	"github.com/autoflow/autoflow/internal/persistence"
	"github.com/autoflow/autoflow/internal/provider"
	"github.com/autoflow/autoflow/internal/taskqueue"
	"github.com/autoflow/autoflow/pkg/api"
	"github.com/autoflow/autoflow/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine         = api.Engine
	Workflow       = api.Workflow
	Step           = api.Step
	Trigger        = api.Trigger
	Run            = api.Run
	LogEntry       = api.LogEntry
	AIOutput       = api.AIOutput
	WorkflowStatus = api.WorkflowStatus
	RunStatus      = api.RunStatus
	StepType       = api.StepType
	TriggerType    = api.TriggerType
	LogLevel       = api.LogLevel

	Observer             = api.Observer
	NoopObserver         = api.NoopObserver
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot

	// Provider is an AI completion backend; see WithProvider.
	Provider = provider.Provider
	// SMTPConfig configures outbound email; see WithSMTP.
	SMTPConfig = email.SMTPConfig
	// Extractor turns uploaded files into text; see WithExtractor.
	Extractor = worker.Extractor
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	ValidateWorkflow     = api.ValidateWorkflow
)

// Re-export status and type values for convenience.

const (
	WorkflowDraft    = api.WorkflowDraft
	WorkflowActive   = api.WorkflowActive
	WorkflowPaused   = api.WorkflowPaused
	WorkflowArchived = api.WorkflowArchived

	RunPending    = api.RunPending
	RunProcessing = api.RunProcessing
	RunCompleted  = api.RunCompleted
	RunFailed     = api.RunFailed
	RunCancelled  = api.RunCancelled

	StepAIProcess       = api.StepAIProcess
	StepEmail           = api.StepEmail
	StepWebhook         = api.StepWebhook
	StepSaveData        = api.StepSaveData
	StepCondition       = api.StepCondition
	StepTransform       = api.StepTransform
	StepDocumentProcess = api.StepDocumentProcess

	TriggerManual   = api.TriggerManual
	TriggerWebhook  = api.TriggerWebhook
	TriggerSchedule = api.TriggerSchedule
)

// Provider constructors.

var (
	NewOpenAIProvider = provider.NewOpenAIProvider
	NewGroqProvider   = provider.NewGroqProvider
)

type settings struct {
	observer  api.Observer
	logger    zerolog.Logger
	uploadDir string
	providers *provider.Registry
	smtp      email.SMTPConfig
	extractor worker.Extractor
	client    *http.Client
}

// Option customizes an engine runtime.
type Option func(*settings)

// WithObserver attaches an Observer to the orchestrator.
func WithObserver(obs Observer) Option {
	return func(s *settings) { s.observer = obs }
}

// WithLogger sets the zerolog logger used across the runtime.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithUploadDir sets the directory bare file ids resolve against.
func WithUploadDir(dir string) Option {
	return func(s *settings) { s.uploadDir = dir }
}

// WithProvider registers an AI provider. The first registered provider is
// the default.
func WithProvider(p Provider) Option {
	return func(s *settings) { s.providers.Register(p) }
}

// WithSMTP configures outbound email. Without it, emails are logged only.
func WithSMTP(cfg SMTPConfig) Option {
	return func(s *settings) { s.smtp = cfg }
}

// WithExtractor replaces the default file extractor, e.g. to add PDF support.
func WithExtractor(e Extractor) Option {
	return func(s *settings) { s.extractor = e }
}

// WithHTTPClient sets the client used by webhook actions.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// Runtime bundles the orchestrator, the three job queues, and their executor
// pools over one storage backend. Engine is usable as soon as the Runtime is
// constructed; jobs only get executed while the pools run, between Start and
// Stop.
type Runtime struct {
	// Engine is the orchestration API: workflows, runs, logs, step reports.
	Engine Engine

	orch     *engine.Orchestrator
	settings *settings

	document taskqueue.Queue
	ai       taskqueue.Queue
	action   taskqueue.Queue

	mu      sync.Mutex
	pools   []*worker.Pool
	running bool
}

func newRuntime(store persistence.Store, document, ai, action taskqueue.Queue, s *settings) *Runtime {
	orch := engine.New(engine.Config{
		Store:      store,
		Dispatcher: taskqueue.NewDispatcher(document, ai, action),
		Observer:   s.observer,
		Logger:     s.logger,
		UploadDir:  s.uploadDir,
	})
	return &Runtime{
		Engine:   orch,
		orch:     orch,
		settings: s,
		document: document,
		ai:       ai,
		action:   action,
	}
}

func applyOptions(opts []Option) *settings {
	s := &settings{
		logger:    zerolog.Nop(),
		providers: provider.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryEngine returns a Runtime backed entirely by in-memory storage
// and queues. State does not survive the process; intended for development
// and tests.
func NewInMemoryEngine(opts ...Option) *Runtime {
	s := applyOptions(opts)
	return newRuntime(
		persistence.NewInMemoryStore(),
		taskqueue.NewInMemoryQueue(1024),
		taskqueue.NewInMemoryQueue(1024),
		taskqueue.NewInMemoryQueue(1024),
		s,
	)
}

// NewSQLiteEngine returns a Runtime whose store and queues share the given
// SQLite database. The caller is responsible for importing a SQLite driver,
// e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteEngine(db *sql.DB, opts ...Option) (*Runtime, error) {
	s := applyOptions(opts)

	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	document, err := taskqueue.NewSQLiteQueue(db, taskqueue.QueueDocument)
	if err != nil {
		return nil, err
	}
	ai, err := taskqueue.NewSQLiteQueue(db, taskqueue.QueueAI)
	if err != nil {
		return nil, err
	}
	action, err := taskqueue.NewSQLiteQueue(db, taskqueue.QueueAction)
	if err != nil {
		return nil, err
	}
	return newRuntime(store, document, ai, action, s), nil
}

// NewRedisEngine returns a Runtime whose store and queues live in Redis
// under the given key prefix ("autoflow:" when empty).
func NewRedisEngine(client *redis.Client, prefix string, opts ...Option) *Runtime {
	s := applyOptions(opts)
	return newRuntime(
		persistence.NewRedisStore(client, prefix),
		taskqueue.NewRedisQueue(client, taskqueue.QueueDocument, prefix),
		taskqueue.NewRedisQueue(client, taskqueue.QueueAI, prefix),
		taskqueue.NewRedisQueue(client, taskqueue.QueueAction, prefix),
		s,
	)
}

// Start launches the three executor pools. Calling Start twice without Stop
// is an error.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("autoflow: runtime already started")
	}

	s := r.settings
	sender := email.NewSender(s.smtp, s.logger)

	docExec := worker.NewDocumentExecutor(r.orch, s.extractor, s.logger)
	docPool := worker.NewPool(r.document, docExec, taskqueue.DefaultSettings(taskqueue.QueueDocument), s.logger)
	docPool.OnExhausted = docExec.FailRunOnExhausted()

	aiExec := worker.NewAIExecutor(r.orch, s.providers, s.logger)
	aiPool := worker.NewPool(r.ai, aiExec, taskqueue.DefaultSettings(taskqueue.QueueAI), s.logger)

	actionExec := worker.NewActionExecutor(r.orch, sender, s.client, s.logger)
	actionPool := worker.NewPool(r.action, actionExec, taskqueue.DefaultSettings(taskqueue.QueueAction), s.logger)

	r.pools = []*worker.Pool{docPool, aiPool, actionPool}
	for _, p := range r.pools {
		p.Start(ctx)
	}
	r.running = true
	return nil
}

// Stop shuts the executor pools down and waits for in-flight jobs.
func (r *Runtime) Stop() {
	r.mu.Lock()
	pools := r.pools
	r.pools = nil
	r.running = false
	r.mu.Unlock()

	for _, p := range pools {
		p.Stop()
	}
}

// Orchestrator exposes operations beyond the Engine interface: run listing,
// AI output audits, log purging. Most callers only need Engine.
func (r *Runtime) Orchestrator() *engine.Orchestrator {
	return r.orch
}
