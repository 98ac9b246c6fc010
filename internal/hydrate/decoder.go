// Package hydrate turns loosely typed dashboard payloads into wire structs.
// Payloads are read with json.Number so integer ids keep their exact value,
// optionally rewritten by pre-hooks, decoded, then checked by post-hooks.
package hydrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Context identifies where a payload came from.
type Context struct {
	Source string
	Kind   string
}

func (c Context) label() string {
	if c.Kind == "" {
		return c.Source
	}
	return c.Source + "/" + c.Kind
}

// Stage names the step of hydration that failed.
type Stage string

const (
	StageRead   Stage = "read"
	StagePre    Stage = "pre-hook"
	StageDecode Stage = "decode"
	StagePost   Stage = "post-hook"
)

// Error reports a failed hydration step.
type Error struct {
	Stage  Stage
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("hydrate: %s %q: %v", e.Stage, e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StageOf returns the failed stage recorded in err, or "" when err did not
// come from this package.
func StageOf(err error) Stage {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Stage
	}
	return ""
}

func fail(ctx Context, stage Stage, err error) error {
	return &Error{Stage: stage, Source: ctx.label(), Err: err}
}

// PreHook rewrites a payload before decoding. It receives a private copy and
// may return it modified or return a replacement.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook checks or completes the decoded value.
type PostHook[T any] func(Context, *T) error

type DecoderOption[T any] func(*Decoder[T])

// Decoder hydrates payloads into T. A Decoder is immutable after NewDecoder
// and safe for concurrent use.
type Decoder[T any] struct {
	pre           []PreHook
	post          []PostHook[T]
	strictUnknown bool
}

func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.pre = append(d.pre, hook)
		}
	}
}

func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.post = append(d.post, hook)
		}
	}
}

// WithDisallowUnknownFields rejects payload keys that T does not declare.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.strictUnknown = true
	}
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// DecodeBytes reads raw as one JSON object and decodes it.
func (d *Decoder[T]) DecodeBytes(ctx Context, raw []byte) (T, error) {
	payload, err := ReadObject(ctx, raw)
	if err != nil {
		var zero T
		return zero, err
	}
	return d.Decode(ctx, payload)
}

// ReadObject decodes raw as exactly one JSON object, keeping numbers as
// json.Number. Failures are reported with StageRead.
func ReadObject(ctx Context, raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fail(ctx, StageRead, errors.New("empty payload"))
	}
	payload, err := readNumbers(raw)
	if err != nil {
		return nil, fail(ctx, StageRead, err)
	}
	if payload == nil {
		return nil, fail(ctx, StageRead, errors.New("payload is not an object"))
	}
	return payload, nil
}

// Decode hydrates payload into T. The caller's map is never modified.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var result T
	if payload == nil {
		return result, fail(ctx, StageRead, errors.New("payload is nil"))
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return result, fail(ctx, StageRead, err)
	}
	if len(d.pre) > 0 {
		current, err := readNumbers(encoded)
		if err != nil {
			return result, fail(ctx, StageRead, err)
		}
		for _, hook := range d.pre {
			next, err := hook(ctx, current)
			if err != nil {
				return result, fail(ctx, StagePre, err)
			}
			if next != nil {
				current = next
			}
		}
		if encoded, err = json.Marshal(current); err != nil {
			return result, fail(ctx, StagePre, err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(encoded))
	if d.strictUnknown {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&result); err != nil {
		var zero T
		return zero, fail(ctx, StageDecode, err)
	}

	for _, hook := range d.post {
		if err := hook(ctx, &result); err != nil {
			var zero T
			return zero, fail(ctx, StagePost, err)
		}
	}
	return result, nil
}

func readNumbers(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after payload")
	}
	return payload, nil
}
