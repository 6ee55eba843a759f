// Package config loads coordinator and worker settings from the environment.
// A .env file in the working directory, when present, is loaded first and
// never overrides variables that are already set. Empty variables count as
// unset.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Logging is shared by both binaries.
type Logging struct {
	Level  string `validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `validate:"oneof=console json"`
}

// Coordinator configures cmd/coordinator.
type Coordinator struct {
	Logging
	ID              string        `validate:"required"`
	Listen          string        `validate:"required"`
	PublicAddr      string        `validate:"required,url"`
	InputPath       string        `validate:"required"`
	InputSeparator  string        `validate:"len=1"`
	HealthInterval  time.Duration `validate:"min=100ms"`
	WelcomeFPRate   float64       `validate:"gt=0,lt=1"`
	InputBatchSize  int           `validate:"min=1"`
	WorkerCapacity  int           `validate:"min=1"`
	HealthMaxFails  int           `validate:"min=1"`
	WelcomeCapacity int           `validate:"min=1"`
	BulkChunkSize   int           `validate:"min=1024"`
	OutputPath      string
	WelcomeWordlist string
	InputSkipHeader bool
}

// Worker configures cmd/worker.
type Worker struct {
	Logging
	ID                string        `validate:"required"`
	Listen            string        `validate:"required"`
	PublicAddr        string        `validate:"required,url"`
	CoordinatorAddr   string        `validate:"required,url"`
	DiscoveryInterval time.Duration `validate:"min=100ms"`
	DiscoveryMaxFails int           `validate:"min=1"`
}

var validate = validator.New()

// LoadDotEnv loads .env if it exists.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadCoordinator reads the coordinator configuration.
func LoadCoordinator() (Coordinator, error) {
	e := newEnv(map[string]any{
		"coordinator_id":      "coordinator",
		"coordinator_listen":  ":8080",
		"coordinator_addr":    "http://127.0.0.1:8080",
		"input_separator":     ";",
		"input_header":        true,
		"input_batch_size":    100,
		"worker_capacity":     1,
		"health_interval":     5 * time.Second,
		"health_max_failures": 3,
		"welcome_capacity":    1 << 20,
		"welcome_fp_rate":     0.01,
		"bulk_chunk_size":     64 << 10,
	})
	cfg := Coordinator{
		Logging:         e.logging(),
		ID:              e.string("coordinator_id"),
		Listen:          e.string("coordinator_listen"),
		PublicAddr:      e.string("coordinator_addr"),
		InputPath:       e.string("input_path"),
		InputSeparator:  e.string("input_separator"),
		OutputPath:      e.string("output_path"),
		WelcomeWordlist: e.string("welcome_wordlist"),
		HealthInterval:  e.duration("health_interval"),
		WelcomeFPRate:   e.float("welcome_fp_rate"),
		InputBatchSize:  e.int("input_batch_size"),
		WorkerCapacity:  e.int("worker_capacity"),
		HealthMaxFails:  e.int("health_max_failures"),
		WelcomeCapacity: e.int("welcome_capacity"),
		BulkChunkSize:   e.int("bulk_chunk_size"),
		InputSkipHeader: e.bool("input_header"),
	}
	if e.err != nil {
		return Coordinator{}, e.err
	}
	if err := validate.Struct(cfg); err != nil {
		return Coordinator{}, fmt.Errorf("invalid coordinator config: %w", err)
	}
	return cfg, nil
}

// LoadWorker reads the worker configuration. A missing WORKER_ID gets a
// random UUID, so a restarted worker always joins under a fresh identity.
func LoadWorker() (Worker, error) {
	e := newEnv(map[string]any{
		"worker_id":              "worker-" + uuid.NewString(),
		"worker_listen":          ":8081",
		"worker_addr":            "http://127.0.0.1:8081",
		"discovery_interval":     2 * time.Second,
		"discovery_max_failures": 3,
	})
	cfg := Worker{
		Logging:           e.logging(),
		ID:                e.string("worker_id"),
		Listen:            e.string("worker_listen"),
		PublicAddr:        e.string("worker_addr"),
		CoordinatorAddr:   e.string("coordinator_addr"),
		DiscoveryInterval: e.duration("discovery_interval"),
		DiscoveryMaxFails: e.int("discovery_max_failures"),
	}
	if e.err != nil {
		return Worker{}, e.err
	}
	if err := validate.Struct(cfg); err != nil {
		return Worker{}, fmt.Errorf("invalid worker config: %w", err)
	}
	return cfg, nil
}

// env reads keys from the environment through viper, falling back to the
// registered defaults. Keys are lower snake case; the variable is the upper
// case form. The first conversion error is kept so loaders can read every
// key and check once.
type env struct {
	v   *viper.Viper
	err error
}

func newEnv(defaults map[string]any) *env {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	return &env{v: v}
}

func (e *env) logging() Logging {
	return Logging{
		Level:  e.string("log_level"),
		Format: e.string("log_format"),
	}
}

func (e *env) fail(k string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s=%q: %w", strings.ToUpper(k), e.v.GetString(k), err)
	}
}

func (e *env) string(k string) string {
	return e.v.GetString(k)
}

func (e *env) int(k string) int {
	n, err := cast.ToIntE(e.v.Get(k))
	if err != nil {
		e.fail(k, err)
	}
	return n
}

func (e *env) float(k string) float64 {
	f, err := cast.ToFloat64E(e.v.Get(k))
	if err != nil {
		e.fail(k, err)
	}
	return f
}

func (e *env) bool(k string) bool {
	b, err := cast.ToBoolE(e.v.Get(k))
	if err != nil {
		e.fail(k, err)
	}
	return b
}

func (e *env) duration(k string) time.Duration {
	d, err := cast.ToDurationE(e.v.Get(k))
	if err != nil {
		e.fail(k, err)
	}
	return d
}
