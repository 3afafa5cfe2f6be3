package backend

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady verifies the inference backend is reachable and that every
// required model is present. Missing models are reported all at once so the
// operator can pull them in one go.
func EnsureReady(ctx context.Context, b Backend, w io.Writer, models ...string) error {
	if !b.IsRunning(ctx) {
		return fmt.Errorf("inference backend is not running. Start it with: ollama serve")
	}

	var missing []string
	for _, model := range models {
		if b.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: missing\n", model)
		missing = append(missing, model)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing models %v; pull them with: ollama pull <model>", missing)
	}
	return nil
}
