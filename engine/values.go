package engine

import (
	"context"
	"fmt"

	"github.com/voxlogica-project/voxlogica2/codec"
	"github.com/voxlogica-project/voxlogica2/dag"
	"github.com/voxlogica-project/voxlogica2/store"
)

// decodeArguments reads every dependency's materialized payload from the
// Content Store and decodes it, preserving argument order (spec §4.5 step 4
// "gather dependency values (decode from store payloads)"). Every argument
// is expected to already be terminal — the scheduler only dispatches a node
// once all of its dependencies have reached a terminal status.
func (e *Engine) decodeArguments(ctx context.Context, args []dag.NodeId) ([]codec.Value, error) {
	values := make([]codec.Value, len(args))
	for i, argID := range args {
		rec, err := e.contentStore.Get(ctx, string(argID), e.cfg.runtimeVersion)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", argID, err)
		}
		if rec.Status != store.StatusMaterialized {
			return nil, fmt.Errorf("dependency %s is not materialized (status %s)", argID, rec.Status)
		}
		v, err := codec.Decode(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: decode: %w", argID, err)
		}
		values[i] = v
	}
	return values, nil
}

// codecEncode is a package-level seam around codec.Encode, named to match
// the call site in computeNode.
func codecEncode(v codec.Value) ([]byte, error) {
	return codec.Encode(v)
}
