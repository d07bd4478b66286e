package policy

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed default.rego
var defaultPolicy string

const storeQuery = "data.memory.store"

// Input is the document a storage policy sees as `input`
type Input struct {
	OwnerID   string
	SubjectID string
	Role      string
	Content   string
	Metadata  map[string]any
}

func (x *Input) document() map[string]any {
	metadata := x.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"owner_id":   x.OwnerID,
		"subject_id": x.SubjectID,
		"role":       x.Role,
		"content":    x.Content,
		"metadata":   metadata,
	}
}

// Decision is the verdict of the storage policy. Attrs are merged into the
// stored record's metadata.
type Decision struct {
	Allow   bool
	Reasons []string
	Attrs   map[string]any
}

type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Policy decides whether a message is worth remembering. Rules live in
// package memory.store: a `deny` set of reasons and an optional `attrs`
// object.
type Policy struct {
	query *rego.PreparedEvalQuery
}

type Option func(*options)

type options struct {
	dir string
}

// WithDir loads every *.rego file in dir instead of the built-in policy
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

func New(ctx context.Context, opts ...Option) (*Policy, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	modules, err := loadModules(o.dir)
	if err != nil {
		return nil, err
	}

	r := rego.New(append([]func(*rego.Rego){
		rego.Query(storeQuery),
		rego.EnablePrintStatements(true),
	}, modules...)...)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare storage policy", goerr.V("dir", o.dir))
	}
	return &Policy{query: &prepared}, nil
}

func loadModules(dir string) ([]func(*rego.Rego), error) {
	if dir == "" {
		return []func(*rego.Rego){rego.Module("default.rego", defaultPolicy)}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found", goerr.V("dir", dir))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// Evaluate runs the policy. An undefined result allows storage.
func (p *Policy) Evaluate(ctx context.Context, in *Input) (*Decision, error) {
	rs, err := p.query.Eval(ctx,
		rego.EvalInput(in.document()),
		rego.EvalPrintHook(&printHook{ctx: ctx}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate storage policy")
	}

	decision := &Decision{Allow: true, Attrs: map[string]any{}}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return decision, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("storage policy returned unexpected value",
			goerr.V("value", rs[0].Expressions[0].Value))
	}

	if deny, ok := data["deny"].([]any); ok {
		for _, reason := range deny {
			if s, ok := reason.(string); ok {
				decision.Reasons = append(decision.Reasons, s)
			}
		}
	}
	sort.Strings(decision.Reasons)
	decision.Allow = len(decision.Reasons) == 0

	if attrs, ok := data["attrs"].(map[string]any); ok {
		decision.Attrs = attrs
	}
	return decision, nil
}
