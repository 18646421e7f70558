package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Options configures a scheduler Service.
type Options struct {
	Logger   *log.Logger
	Location *time.Location
	Cron     *cron.Cron
	Parser   cron.Parser
	Now      func() time.Time
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Logger: log.Default(),
		Now:    time.Now,
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithLocation sets the cron evaluation timezone.
func WithLocation(loc *time.Location) Option {
	return func(o *Options) { o.Location = loc }
}

// WithCron injects a preconfigured cron engine, for tests.
func WithCron(c *cron.Cron) Option {
	return func(o *Options) { o.Cron = c }
}

// WithParser overrides the schedule expression parser.
func WithParser(p cron.Parser) Option {
	return func(o *Options) { o.Parser = p }
}

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}
