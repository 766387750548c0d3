package cache

import (
	"context"
	"errors"

	"github.com/jonwraymond/xpersist/fingerprint"
	"github.com/jonwraymond/xpersist/observe"
	"github.com/jonwraymond/xpersist/store"
)

// Call identifies a computation and the inputs that determine its result.
type Call struct {
	// Name is the qualified computation name, e.g. "climate.sum_grid".
	Name string
	// Args are positional inputs; order matters.
	Args []any
	// Kwargs are named inputs; order does not matter.
	Kwargs map[string]any
}

// ComputeFunc produces the result for a call. It must be pure with respect
// to the call's Args and Kwargs.
type ComputeFunc[T any] func(ctx context.Context) (T, error)

// Action reports how a call was served.
type Action string

// Actions.
const (
	ActionHit       Action = "hit"
	ActionCreate    Action = "create"
	ActionOverwrite Action = "overwrite"
)

// Outcome describes a finished GetOrCompute call.
type Outcome struct {
	Action      Action
	Fingerprint fingerprint.Fingerprint
	// Entry is the entry that was loaded or stored. It is zero when a
	// fail-open write failed.
	Entry store.Entry
	// WriteErr is the persistence error swallowed under FailOpen.
	WriteErr error
}

type callOptions struct {
	version    string
	force      bool
	serializer string
	outcome    *Outcome
}

// CallOption configures a single GetOrCompute call.
type CallOption func(*callOptions)

// WithCallVersion overrides the cache-wide version tag for one call.
func WithCallVersion(tag string) CallOption {
	return func(o *callOptions) { o.version = tag }
}

// WithForce recomputes and atomically replaces any existing entry.
func WithForce() CallOption {
	return func(o *callOptions) { o.force = true }
}

// WithSerializer stores the result with the named serializer.
func WithSerializer(name string) CallOption {
	return func(o *callOptions) { o.serializer = name }
}

// WithOutcome records how the call was served into out.
func WithOutcome(out *Outcome) CallOption {
	return func(o *callOptions) { o.outcome = out }
}

func (c *Cache) callOptions(opts []CallOption) callOptions {
	o := callOptions{version: c.version, serializer: c.serializer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GetOrCompute returns the stored result for call, or runs fn, stores its
// result and returns it. Hits take no lock. Misses and forced calls for the
// same fingerprint are serialized and re-check the store under the lock, so
// fn runs at most once per fingerprint at a time within the process.
//
// On a hit T must be a type the entry's serializer can load into: for
// example *array.Dataset for dataset/v1, []byte for bytes/v1, or any
// JSON-decodable type for json/v1.
func GetOrCompute[T any](ctx context.Context, c *Cache, call Call, fn ComputeFunc[T], opts ...CallOption) (T, error) {
	var zero T
	if c == nil {
		return zero, ErrNilCache
	}
	if fn == nil {
		return zero, ErrNilCompute
	}
	if c.closed.Load() {
		return zero, ErrClosed
	}
	o := c.callOptions(opts)

	meta := observe.CallMeta{
		Name:       call.Name,
		Version:    o.version,
		Backend:    string(c.backend.Kind()),
		Serializer: o.serializer,
	}

	var result T
	var out Outcome
	_, err := c.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (observe.CallResult, error) {
		var err error
		result, out, err = getOrCompute(ctx, c, call, fn, o)
		res := observe.CallResult{Action: string(out.Action), Fingerprint: out.Fingerprint.String()}
		if out.Action != ActionHit && out.WriteErr == nil {
			res.Bytes = out.Entry.Size
		}
		return res, err
	})(ctx, meta)

	if o.outcome != nil {
		*o.outcome = out
	}
	if err != nil {
		return zero, err
	}
	return result, nil
}

func getOrCompute[T any](ctx context.Context, c *Cache, call Call, fn ComputeFunc[T], o callOptions) (T, Outcome, error) {
	var zero T
	fp, err := c.builder.Build(call.Name, call.Args, call.Kwargs, o.version)
	if err != nil {
		return zero, Outcome{}, err
	}
	out := Outcome{Fingerprint: fp}

	// Hits are served without the lock so readers never wait on each other.
	// A failed load falls through to the locked path, which re-checks.
	if !o.force {
		existing, err := c.backend.ReadMetadata(ctx, fp)
		if err != nil {
			return zero, out, err
		}
		if existing != nil {
			result, entry, err := load[T](ctx, c, fp)
			if err == nil {
				out.Action = ActionHit
				out.Entry = entry
				return result, out, nil
			}
			if !isRecoverableLoad(err) {
				return zero, out, err
			}
		}
	}

	tok, err := c.locks.Acquire(ctx, fp.Hex())
	if err != nil {
		return zero, out, err
	}
	defer c.release(ctx, tok, call.Name, fp)

	existing, err := c.backend.ReadMetadata(ctx, fp)
	if err != nil {
		return zero, out, err
	}

	if existing != nil && !o.force {
		result, entry, err := load[T](ctx, c, fp)
		if err == nil {
			out.Action = ActionHit
			out.Entry = entry
			return result, out, nil
		}
		if !isRecoverableLoad(err) {
			return zero, out, err
		}
		c.warn(ctx, Warning{Op: "load", Name: call.Name, Fingerprint: fp, Err: err})
	}

	result, err := compute(ctx, c, fn)
	if err != nil {
		return zero, out, err
	}

	out.Action = ActionCreate
	if existing != nil {
		out.Action = ActionOverwrite
	}

	entry, err := c.persist(ctx, call.Name, fp, result, o)
	if err != nil {
		if !errors.Is(err, store.ErrStorageUnavailable) {
			return zero, out, err
		}
		c.warn(ctx, Warning{Op: "write", Name: call.Name, Fingerprint: fp, Err: err})
		if c.policy.WriteFailure == FailOpen {
			out.WriteErr = err
			return result, out, nil
		}
		return zero, out, err
	}
	out.Entry = entry

	if c.policy.PruneSuperseded && c.pruneSuperseded(ctx, entry) > 0 {
		out.Action = ActionOverwrite
	}
	return result, out, nil
}

func load[T any](ctx context.Context, c *Cache, fp fingerprint.Fingerprint) (T, store.Entry, error) {
	var result T
	var entry store.Entry
	err := store.WithReader(ctx, c.backend, fp, func(r store.ReadHandle) error {
		entry = r.Entry()
		s, err := c.serializers.Get(entry.Serializer)
		if err != nil {
			return err
		}
		return s.Load(ctx, r, &result)
	})
	return result, entry, err
}

func compute[T any](ctx context.Context, c *Cache, fn ComputeFunc[T]) (T, error) {
	if c.bulkhead == nil {
		return fn(ctx)
	}
	var result T
	err := c.bulkhead.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// persist selects a serializer for result and writes it under fp.
func (c *Cache) persist(ctx context.Context, name string, fp fingerprint.Fingerprint, result any, o callOptions) (store.Entry, error) {
	s, err := c.serializers.Select(result, o.serializer)
	if err != nil {
		return store.Entry{}, err
	}
	return store.WithWriter(ctx, c.backend, fp, func(w store.WriteHandle) (store.Entry, error) {
		n, err := s.Dump(ctx, result, w)
		if err != nil {
			return store.Entry{}, err
		}
		return store.Entry{
			Name:       name,
			Version:    o.version,
			Serializer: s.Name(),
			Size:       n,
		}, nil
	})
}
