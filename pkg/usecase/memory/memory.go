package memory

import (
	"time"

	"github.com/m-mizutani/kioku/pkg/classifier"
	"github.com/m-mizutani/kioku/pkg/embedding"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/policy"
	"github.com/m-mizutani/kioku/pkg/prompt"
	"github.com/m-mizutani/kioku/pkg/reference"
	"github.com/m-mizutani/kioku/pkg/repository"
	"github.com/m-mizutani/kioku/pkg/usecase/retrieval"
	"github.com/m-mizutani/kioku/pkg/vector"
)

const (
	DefaultMaxChunkLen = 1000
	DefaultTokenBudget = 2000
)

// UseCase is the caller-facing memory API: storing messages, retrieving
// context and answering questions about the past
type UseCase struct {
	embedder embedding.Embedder
	registry *vector.Registry
	reader   repository.Reader
	writer   repository.Writer
	policy   *policy.Policy

	classifier *classifier.Classifier
	assembler  *prompt.Assembler
	detector   *reference.Detector
	engine     *retrieval.Engine

	maxChunkLen int
	tokenBudget int
	config      model.RetrievalConfig
	now         func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithRepository enables the episodic and knowledge sources and keeps a copy
// of every stored message for Reindex
func WithRepository(repo repository.Repository) Option {
	return func(u *UseCase) {
		u.reader = repo
		u.writer = repo
	}
}

// WithReader enables the episodic and knowledge sources only
func WithReader(reader repository.Reader) Option {
	return func(u *UseCase) {
		u.reader = reader
	}
}

// WithPolicy sets the storage policy consulted by StoreMessage
func WithPolicy(p *policy.Policy) Option {
	return func(u *UseCase) {
		u.policy = p
	}
}

func WithClassifier(c *classifier.Classifier) Option {
	return func(u *UseCase) {
		u.classifier = c
	}
}

func WithDetector(d *reference.Detector) Option {
	return func(u *UseCase) {
		u.detector = d
	}
}

// WithClock replaces time.Now for timestamps and recency labels
func WithClock(now func() time.Time) Option {
	return func(u *UseCase) {
		u.now = now
	}
}

// WithMaxChunkLen sets the rune length above which stored messages are split
func WithMaxChunkLen(n int) Option {
	return func(u *UseCase) {
		u.maxChunkLen = n
	}
}

// WithTokenBudget sets the default prompt budget of RetrieveContext
func WithTokenBudget(n int) Option {
	return func(u *UseCase) {
		u.tokenBudget = n
	}
}

// WithRetrievalConfig sets the default fusion settings of RetrieveContext
func WithRetrievalConfig(cfg model.RetrievalConfig) Option {
	return func(u *UseCase) {
		u.config = cfg
	}
}

// New creates a memory UseCase instance
func New(
	embedder embedding.Embedder,
	registry *vector.Registry,
	opts ...Option,
) *UseCase {
	u := &UseCase{
		embedder:    embedder,
		registry:    registry,
		classifier:  classifier.New(),
		detector:    reference.New(),
		maxChunkLen: DefaultMaxChunkLen,
		tokenBudget: DefaultTokenBudget,
		config:      model.DefaultRetrievalConfig(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(u)
	}

	u.assembler = prompt.New(prompt.WithClock(u.now))
	engineOpts := []retrieval.Option{retrieval.WithClock(u.now)}
	if u.reader != nil {
		engineOpts = append(engineOpts, retrieval.WithReader(u.reader))
	}
	u.engine = retrieval.New(embedder, registry, engineOpts...)

	return u
}
