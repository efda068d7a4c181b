package jsonl

import (
	"context"

	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/store"
)

type fakeArchiver struct {
	metas []store.RunMeta
}

func (f *fakeArchiver) Archive(ctx context.Context, meta store.RunMeta, out *runner.Outcome) error {
	f.metas = append(f.metas, meta)
	return nil
}
