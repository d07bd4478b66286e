package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/policy"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	p, err := policy.New(ctx)
	gt.NoError(t, err)

	t.Run("allows normal messages", func(t *testing.T) {
		d, err := p.Evaluate(ctx, &policy.Input{Role: "user", Content: "Mi perro se llama Toby"})
		gt.NoError(t, err)
		gt.True(t, d.Allow)
		gt.A(t, d.Reasons).Length(0)
	})

	t.Run("denies trivial acknowledgements", func(t *testing.T) {
		for _, content := range []string{"ok", "¡Gracias!", "  vale.  ", "jajaja"} {
			d, err := p.Evaluate(ctx, &policy.Input{Role: "user", Content: content})
			gt.NoError(t, err)
			gt.False(t, d.Allow)
		}
	})

	t.Run("denies system messages", func(t *testing.T) {
		d, err := p.Evaluate(ctx, &policy.Input{Role: "system", Content: "You are a helpful assistant"})
		gt.NoError(t, err)
		gt.False(t, d.Allow)
		gt.Equal(t, d.Reasons, []string{"system messages are not remembered"})
	})

	t.Run("tags questions", func(t *testing.T) {
		d, err := p.Evaluate(ctx, &policy.Input{Role: "user", Content: "¿Dónde vives ahora?"})
		gt.NoError(t, err)
		gt.True(t, d.Allow)
		gt.Equal(t, d.Attrs["question"], any(true))
	})
}

func TestPolicyFromDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "store.rego"), []byte(`package memory.store

deny contains "secret" if {
	contains(lower(input.content), "password")
}

attrs["owner"] := input.owner_id
`), 0o644))

	p, err := policy.New(ctx, policy.WithDir(dir))
	gt.NoError(t, err)

	d, err := p.Evaluate(ctx, &policy.Input{OwnerID: "o1", Role: "user", Content: "my Password is hunter2"})
	gt.NoError(t, err)
	gt.False(t, d.Allow)
	gt.Equal(t, d.Reasons, []string{"secret"})

	d, err = p.Evaluate(ctx, &policy.Input{OwnerID: "o1", Role: "user", Content: "ok"})
	gt.NoError(t, err)
	gt.True(t, d.Allow)
	gt.Equal(t, d.Attrs["owner"], any("o1"))
}

func TestPolicyDirWithoutFiles(t *testing.T) {
	_, err := policy.New(context.Background(), policy.WithDir(t.TempDir()))
	gt.Error(t, err)
}
