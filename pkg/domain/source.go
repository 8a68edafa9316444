package domain

import "context"

// Source supplies the current authoritative descriptors for one catalog. It is
// called on every reconciliation pass and must be safe to call repeatedly.
type Source[S any] interface {
	Enumerate(ctx context.Context) ([]S, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[S any] func(ctx context.Context) ([]S, error)

// Enumerate calls f.
func (f SourceFunc[S]) Enumerate(ctx context.Context) ([]S, error) { return f(ctx) }

// StaticSource returns a Source that always yields a copy of descriptors.
func StaticSource[S any](descriptors ...S) Source[S] {
	return SourceFunc[S](func(context.Context) ([]S, error) {
		out := make([]S, len(descriptors))
		copy(out, descriptors)
		return out, nil
	})
}
