package conversation

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/agentdeck/model"
)

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithPrices sets the price table used for run cost. Defaults to model.DefaultPrices.
func WithPrices(p model.PriceTable) Option {
	return func(a *Accumulator) {
		if p != nil {
			a.prices = p
		}
	}
}

// WithClock sets the time source for Message timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithIDGenerator sets the Message id generator. Defaults to random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(a *Accumulator) {
		if gen != nil {
			a.newID = gen
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Accumulator) {
		if l != nil {
			a.logger = l
		}
	}
}

func defaults() *Accumulator {
	return &Accumulator{
		prices:   model.DefaultPrices(),
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
		sessions: make(map[string]*sessionState),
	}
}
