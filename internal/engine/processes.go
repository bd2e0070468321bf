package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const maxSequenceCount = 1_000_000

type sourceFactory func(cfg map[string]any, b Bindings) (func(context.Context, emitFunc) error, error)

type transformFactory func(cfg map[string]any) (func(Record) (Record, action, error), error)

var sources = map[string]sourceFactory{
	"values":   newValuesSource,
	"sequence": newSequenceSource,
	"csv-file": newCSVSource,
}

var transforms = map[string]transformFactory{
	"select": newSelectTransform,
	"rename": newRenameTransform,
	"filter": newFilterTransform,
	"limit":  newLimitTransform,
}

// Types lists every process type the engine understands.
func Types() []string {
	out := make([]string, 0, len(sources)+len(transforms))
	for k := range sources {
		out = append(out, k)
	}
	for k := range transforms {
		out = append(out, k)
	}
	return out
}

func decode(cfg map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return fmt.Errorf("init config decoder: %w", err)
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

type valuesConfig struct {
	Records []map[string]any `json:"records"`
}

func newValuesSource(cfg map[string]any, _ Bindings) (func(context.Context, emitFunc) error, error) {
	var c valuesConfig
	if err := decode(cfg, &c); err != nil {
		return nil, err
	}
	return func(_ context.Context, emit emitFunc) error {
		for _, r := range c.Records {
			if err := emit(Record(r)); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

type sequenceConfig struct {
	Count      int    `json:"count"`
	IntervalMS int    `json:"interval_ms"`
	Field      string `json:"field"`
}

func newSequenceSource(cfg map[string]any, _ Bindings) (func(context.Context, emitFunc) error, error) {
	var c sequenceConfig
	if err := decode(cfg, &c); err != nil {
		return nil, err
	}
	if c.Count <= 0 || c.Count > maxSequenceCount {
		return nil, fmt.Errorf("count must be between 1 and %d", maxSequenceCount)
	}
	if c.IntervalMS < 0 {
		return nil, errors.New("interval_ms must be >= 0")
	}
	if c.Field == "" {
		c.Field = "index"
	}
	interval := time.Duration(c.IntervalMS) * time.Millisecond
	return func(ctx context.Context, emit emitFunc) error {
		for i := 0; i < c.Count; i++ {
			if i > 0 && interval > 0 {
				t := time.NewTimer(interval)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
			if err := emit(Record{c.Field: i}); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

type csvConfig struct {
	Path      string `json:"path"`
	Delimiter string `json:"delimiter"`
	NoHeader  bool   `json:"no_header"`
}

func newCSVSource(cfg map[string]any, b Bindings) (func(context.Context, emitFunc) error, error) {
	var c csvConfig
	if err := decode(cfg, &c); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Path) == "" {
		return nil, errors.New("path is required")
	}
	if b.Files == nil {
		return nil, errors.New("no file binding available")
	}
	delim := ','
	if c.Delimiter != "" {
		runes := []rune(c.Delimiter)
		if len(runes) != 1 {
			return nil, errors.New("delimiter must be a single character")
		}
		delim = runes[0]
	}
	return func(ctx context.Context, emit emitFunc) error {
		f, err := b.Files.Open(c.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", c.Path, err)
		}
		defer f.Close() //nolint:errcheck // read-only handle

		r := csv.NewReader(f)
		r.Comma = delim
		r.FieldsPerRecord = -1
		var header []string
		for line := 0; ; line++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read csv: %w", err)
			}
			if line == 0 && !c.NoHeader {
				header = append([]string(nil), row...)
				continue
			}
			if err := emit(csvRecord(header, row)); err != nil {
				return err
			}
		}
	}, nil
}

func csvRecord(header, row []string) Record {
	rec := make(Record, len(row))
	for i, v := range row {
		key := fmt.Sprintf("col%d", i)
		if i < len(header) && header[i] != "" {
			key = header[i]
		}
		rec[key] = v
	}
	return rec
}

type selectConfig struct {
	Fields []string `json:"fields"`
}

func newSelectTransform(cfg map[string]any) (func(Record) (Record, action, error), error) {
	var c selectConfig
	if err := decode(cfg, &c); err != nil {
		return nil, err
	}
	if len(c.Fields) == 0 {
		return nil, errors.New("fields is required")
	}
	return func(in Record) (Record, action, error) {
		out := make(Record, len(c.Fields))
		for _, f := range c.Fields {
			if v, ok := in[f]; ok {
				out[f] = v
			}
		}
		return out, keep, nil
	}, nil
}

type renameConfig struct {
	Fields map[string]string `json:"fields"`
}

func newRenameTransform(cfg map[string]any) (func(Record) (Record, action, error), error) {
	var c renameConfig
	if err := decode(cfg, &c); err != nil {
		return nil, err
	}
	if len(c.Fields) == 0 {
		return nil, errors.New("fields is required")
	}
	return func(in Record) (Record, action, error) {
		out := make(Record, len(in))
		for k, v := range in {
			if to, ok := c.Fields[k]; ok {
				out[to] = v
				continue
			}
			out[k] = v
		}
		return out, keep, nil
	}, nil
}

type filterConfig struct {
	Field  string `json:"field"`
	Equals any    `json:"equals"`
	Not    bool   `json:"not"`
}

func newFilterTransform(cfg map[string]any) (func(Record) (Record, action, error), error) {
	var c filterConfig
	if err := decode(cfg, &c); err != nil {
		return nil, err
	}
	if c.Field == "" {
		return nil, errors.New("field is required")
	}
	want := fmt.Sprint(c.Equals)
	return func(in Record) (Record, action, error) {
		v, ok := in[c.Field]
		match := ok && fmt.Sprint(v) == want
		if match != c.Not {
			return in, keep, nil
		}
		return nil, drop, nil
	}, nil
}

type limitConfig struct {
	Count int `json:"count"`
}

func newLimitTransform(cfg map[string]any) (func(Record) (Record, action, error), error) {
	var c limitConfig
	if err := decode(cfg, &c); err != nil {
		return nil, err
	}
	if c.Count <= 0 {
		return nil, errors.New("count must be > 0")
	}
	seen := 0
	return func(in Record) (Record, action, error) {
		if seen >= c.Count {
			return nil, stop, nil
		}
		seen++
		return in, keep, nil
	}, nil
}
