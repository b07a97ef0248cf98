package flow

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Variant distinguishes a Node's exec phase: exactly one of Exec or
// ExecAsync may be set on a given Node.
type Variant int

const (
	VariantUnset Variant = iota
	VariantSync
	VariantAsync
)

func (v Variant) String() string {
	switch v {
	case VariantSync:
		return "sync"
	case VariantAsync:
		return "async"
	default:
		return "unset"
	}
}

// PrepFunc reads the Store and produces the value exec will consume. It
// must not mutate the Store.
type PrepFunc func(ctx context.Context, store *Store) (any, error)

// ExecFunc is the synchronous transform phase. It must be pure with
// respect to the Store: it only sees prepValue and returns execValue.
type ExecFunc func(ctx context.Context, prepValue any) (any, error)

// ExecAsyncFunc is the asynchronous transform phase. It may fan out
// internal sub-tasks but must present a blocking synchronous boundary to
// the Flow: the scheduler awaits it like any other exec call.
type ExecAsyncFunc func(ctx context.Context, prepValue any) (any, error)

// PostFunc is the only sanctioned Store-mutation point. It returns the
// outbound action string, or "" which is normalised to "default".
type PostFunc func(ctx context.Context, store *Store, prepValue, execValue any) (string, error)

// ExecFallbackFunc is consulted after an exec failure with attempts
// remaining. Returning a nil error recovers the node with its returned
// value as the exec result; returning an error falls through to the
// normal retry-delay-and-retry path.
type ExecFallbackFunc func(ctx context.Context, prepValue any, cause error) (any, error)

// Node is a retryable three-phase execution unit (prep, exec|exec_async,
// post) with an outbound edge table keyed by action string. A Node is a
// single Go value with optional function fields rather than a polymorphic
// type hierarchy: Variant() reports which of Exec/ExecAsync is populated.
type Node struct {
	Name         string
	MaxRetries   int
	RetryDelay   time.Duration
	Prep         PrepFunc
	Exec         ExecFunc
	ExecAsync    ExecAsyncFunc
	Post         PostFunc
	ExecFallback ExecFallbackFunc

	edges edgeTable
}

// NewNode constructs a Node with the spec's default retry policy
// (max_retries=1, retry_delay=0).
func NewNode(name string) *Node {
	return &Node{
		Name:       name,
		MaxRetries: 1,
		RetryDelay: 0,
		edges:      newEdgeTable(),
	}
}

// NewAsyncNode constructs a Node exactly as NewNode does; nothing is
// preset. Callers assign the ExecAsync field themselves; this is a naming
// convenience mirroring the spec's AsyncNode variant.
func NewAsyncNode(name string) *Node {
	return NewNode(name)
}

// Then registers an outbound edge for action (the reserved key "*" is the
// wildcard) and returns the Node for fluent chaining. Re-registering an
// action replaces its previous successor.
func (n *Node) Then(action string, next *Node) *Node {
	n.edges.set(action, next)
	return n
}

// Variant reports which exec phase is populated.
func (n *Node) Variant() Variant {
	switch {
	case n.Exec != nil && n.ExecAsync == nil:
		return VariantSync
	case n.ExecAsync != nil && n.Exec == nil:
		return VariantAsync
	default:
		return VariantUnset
	}
}

// validate checks the invariants that the scheduler enforces each time it
// steps into a node: exactly one exec variant, and a sane retry policy.
func (n *Node) validate() error {
	hasSync := n.Exec != nil
	hasAsync := n.ExecAsync != nil
	if hasSync && hasAsync {
		return errInvalidArg(n.Name, "node has both exec and exec_async set")
	}
	if !hasSync && !hasAsync {
		return errInvalidArg(n.Name, "node has neither exec nor exec_async set")
	}
	if n.MaxRetries < 1 {
		return errInvalidArg(n.Name, "max_retries must be >= 1, got %d", n.MaxRetries)
	}
	if n.RetryDelay < 0 {
		return errInvalidArg(n.Name, "retry_delay must be >= 0, got %s", n.RetryDelay)
	}
	return nil
}

// run executes the node's three phases against store and returns the
// outbound action string. It implements the retry algorithm from §4.2:
// prep and post are never retried; exec is retried up to MaxRetries times,
// consulting ExecFallback between attempts.
func (n *Node) run(ctx context.Context, store *Store) (string, error) {
	prepValue, err := n.callPrep(ctx, store)
	if err != nil {
		return "", errPrepFailed(n.Name, err)
	}

	execValue, err := n.runExecWithRetry(ctx, prepValue)
	if err != nil {
		return "", err // already a *FlowError from runExecWithRetry
	}

	action, err := n.callPost(ctx, store, prepValue, execValue)
	if err != nil {
		return "", errPostFailed(n.Name, err)
	}
	if action == "" {
		action = defaultAction
	}
	return action, nil
}

func (n *Node) callPrep(ctx context.Context, store *Store) (any, error) {
	if n.Prep == nil {
		return nil, nil
	}
	return n.Prep(ctx, store)
}

func (n *Node) callPost(ctx context.Context, store *Store, prepValue, execValue any) (string, error) {
	if n.Post == nil {
		return defaultAction, nil
	}
	return n.Post(ctx, store, prepValue, execValue)
}

func (n *Node) callExec(ctx context.Context, prepValue any) (any, error) {
	if n.Variant() == VariantAsync {
		return n.ExecAsync(ctx, prepValue)
	}
	return n.Exec(ctx, prepValue)
}

func (n *Node) runExecWithRetry(ctx context.Context, prepValue any) (any, error) {
	attempt := 1
	for {
		execValue, execErr := n.callExec(ctx, prepValue)
		if execErr == nil {
			return execValue, nil
		}

		if attempt < n.MaxRetries {
			if n.ExecFallback != nil {
				fbValue, fbErr := n.ExecFallback(ctx, prepValue, execErr)
				if fbErr == nil {
					return fbValue, nil
				}
			}
			if n.RetryDelay > 0 {
				time.Sleep(n.RetryDelay)
			}
			attempt++
			continue
		}

		return nil, errExecFailed(n.Name, execErr)
	}
}

// FanOut runs each of fns concurrently and returns their results in the
// same order, or the first error encountered. It is the helper an
// ExecAsyncFunc reaches for to implement internal fan-out/fan-in while
// still presenting a single blocking call to the Flow.
func FanOut[T any](ctx context.Context, fns []func(ctx context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(fns))
	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			v, err := fn(gctx)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
