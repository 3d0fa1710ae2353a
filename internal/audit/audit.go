// Package audit persists iteration and step records produced by the
// controllers. Sinks are optional; a nil Sink is never called.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry kinds.
const (
	KindIteration   = "refine.iteration"
	KindOutcome     = "refine.outcome"
	KindToolStep    = "tool.step"
	KindToolOutcome = "tool.outcome"
	KindChainStep   = "chain.step"
)

// Entry is one audit record.
type Entry struct {
	RunID    string    `json:"run_id"`
	Kind     string    `json:"kind"`
	Task     string    `json:"task,omitempty"`
	Index    int       `json:"index"`
	Artifact string    `json:"artifact,omitempty"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	Status   string    `json:"status,omitempty"`
	Feedback string    `json:"feedback,omitempty"`
	Detail   any       `json:"detail,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink stores entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Stamp fills Time when unset.
func Stamp(e Entry) Entry {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }

// Multi fans entries out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config selects and configures a sink.
type Config struct {
	Kind      string `mapstructure:"kind" validate:"omitempty,oneof=none file s3 postgres websocket"`
	Path      string `mapstructure:"path"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	DSN       string `mapstructure:"dsn"`
	URL       string `mapstructure:"url"`
}

// Open builds the sink described by cfg. Kind "" and "none" yield Nop.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "none":
		return Nop{}, nil
	case "file":
		var s *FileSink
		if s, err = NewFileSink(cfg.Path); err == nil {
			sink = s
		}
	case "s3":
		var s *ObjectSink
		if s, err = NewObjectSink(ObjectConfig{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			UseSSL:    cfg.UseSSL,
		}); err == nil {
			sink = s
		}
	case "postgres":
		var s *PostgresSink
		if s, err = OpenPostgres(ctx, cfg.DSN); err == nil {
			sink = s
		}
	case "websocket":
		var s *WebsocketSink
		if s, err = DialWebsocket(ctx, cfg.URL); err == nil {
			sink = s
		}
	default:
		return nil, fmt.Errorf("audit: unknown sink kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return sink, nil
}
