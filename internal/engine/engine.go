// Package engine is the reference processing engine behind job runs.
//
// A Definition is an ordered list of process descriptors: the first one is a
// source that emits records, every following one transforms them. Build
// validates the whole chain up front; Run streams the resulting records as
// newline-delimited JSON.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ProcessDescriptor is one step of a process graph.
type ProcessDescriptor struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Definition is the job body accepted by the run route.
type Definition struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Processes   []ProcessDescriptor `json:"processes"`
}

// Record is a single unit of engine output.
type Record map[string]any

// FileOpener gives sources read access to files addressed by relative path.
type FileOpener interface {
	Open(rel string) (io.ReadCloser, error)
}

// Bindings are the capabilities a job may use at run time.
type Bindings struct {
	Files FileOpener
}

// BuildError reports an invalid process graph.
type BuildError struct {
	Index int
	Type  string
	Err   error
}

func (e *BuildError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("build process %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("build process %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// RuntimeError reports a failure while records were flowing.
type RuntimeError struct {
	Type string
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("run %s: %v", e.Type, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ErrEmptyDefinition is returned when no process is declared.
var ErrEmptyDefinition = errors.New("definition has no processes")

type emitFunc func(Record) error

type source struct {
	kind string
	run  func(ctx context.Context, emit emitFunc) error
}

type action int

const (
	keep action = iota
	drop
	stop
)

type transform struct {
	kind  string
	apply func(Record) (Record, action, error)
}

// Processor is a validated, runnable process graph.
type Processor struct {
	id         string
	name       string
	source     source
	transforms []transform
}

// Build validates def and binds it to the given capabilities.
func Build(id string, def Definition, bindings Bindings) (*Processor, error) {
	if len(def.Processes) == 0 {
		return nil, &BuildError{Index: 0, Err: ErrEmptyDefinition}
	}
	first := def.Processes[0]
	newSource, ok := sources[first.Type]
	if !ok {
		if _, isTransform := transforms[first.Type]; isTransform {
			return nil, &BuildError{Index: 0, Type: first.Type, Err: errors.New("first process must be a source")}
		}
		return nil, &BuildError{Index: 0, Type: first.Type, Err: errors.New("unknown process type")}
	}
	src, err := newSource(first.Config, bindings)
	if err != nil {
		return nil, &BuildError{Index: 0, Type: first.Type, Err: err}
	}
	p := &Processor{
		id:     id,
		name:   def.Name,
		source: source{kind: first.Type, run: src},
	}
	for i, desc := range def.Processes[1:] {
		newTransform, ok := transforms[desc.Type]
		if !ok {
			return nil, &BuildError{Index: i + 1, Type: desc.Type, Err: errors.New("unknown transform type")}
		}
		apply, err := newTransform(desc.Config)
		if err != nil {
			return nil, &BuildError{Index: i + 1, Type: desc.Type, Err: err}
		}
		p.transforms = append(p.transforms, transform{kind: desc.Type, apply: apply})
	}
	return p, nil
}

// ID returns the job id the processor was built for.
func (p *Processor) ID() string { return p.id }

// Name returns the definition name.
func (p *Processor) Name() string { return p.name }

// errStop unwinds the source once a transform asks to end the stream.
var errStop = errors.New("stop")

// Run streams every record that survives the transform chain to w as one
// JSON document per line. It returns ctx.Err() when the context ends first.
func (p *Processor) Run(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)
	emit := func(rec Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, t := range p.transforms {
			next, act, err := t.apply(rec)
			if err != nil {
				return &RuntimeError{Type: t.kind, Err: err}
			}
			switch act {
			case drop:
				return nil
			case stop:
				return errStop
			}
			rec = next
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		return nil
	}
	err := p.source.run(ctx, emit)
	switch {
	case err == nil, errors.Is(err, errStop):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		var rt *RuntimeError
		if errors.As(err, &rt) {
			return err
		}
		return &RuntimeError{Type: p.source.kind, Err: err}
	}
}
