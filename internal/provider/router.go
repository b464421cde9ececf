package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-sentinel/internal/indicator"
	"market-sentinel/internal/market"
)

const fallbackName = "fallback"

// RouterOptions parameterise the fallback router.
type RouterOptions struct {
	// CallTimeout bounds each individual provider attempt.
	CallTimeout time.Duration
	Observer    Observer
}

// Router tries a primary provider and retries once against a secondary.
type Router struct {
	primary   Provider
	secondary Provider
	opts      RouterOptions
	logger    zerolog.Logger
}

// NewRouter composes two providers behind the Provider contract.
func NewRouter(primary, secondary Provider, opts RouterOptions, logger zerolog.Logger) *Router {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &Router{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		logger:    logger.With().Str("component", "provider_router").Logger(),
	}
}

func (r *Router) Name() string {
	return fmt.Sprintf("%s>%s", r.primary.Name(), r.secondary.Name())
}

// Supports reports whether either provider can answer, directly or through a
// series translation on the secondary.
func (r *Router) Supports(inst market.Instrument, capability Capability) bool {
	if r.primary.Supports(inst, capability) || r.secondary.Supports(inst, capability) {
		return true
	}
	translated := Request{Capability: capability}.AsSeries()
	return translated.Capability != capability && r.secondary.Supports(inst, translated.Capability)
}

// Fetch attempts the primary, then the secondary exactly once. When both fail
// the returned error is unavailable and wraps both failures.
func (r *Router) Fetch(ctx context.Context, inst market.Instrument, req Request) (Result, error) {
	log := r.logger.With().Str("symbol", inst.Symbol).Str("capability", string(req.Capability)).Logger()

	var primaryErr error
	if r.primary.Supports(inst, req.Capability) {
		res, err := r.attempt(ctx, r.primary, inst, req)
		if err == nil {
			return res, nil
		}
		primaryErr = err
		log.Warn().Err(err).Str("provider", r.primary.Name()).Msg("primary provider failed, falling back")
	} else {
		primaryErr = newError(r.primary.Name(), KindNotSupported, "capability %s for %s", req.Capability, inst.Symbol)
		log.Debug().Str("provider", r.primary.Name()).Msg("primary lacks capability, falling back")
	}

	if r.opts.Observer != nil {
		r.opts.Observer.Fallback(r.primary.Name(), r.secondary.Name())
	}

	secondaryReq, ok := r.translate(inst, req)
	var secondaryErr error
	if ok {
		res, err := r.attempt(ctx, r.secondary, inst, secondaryReq)
		if err == nil {
			log.Info().Str("provider", r.secondary.Name()).Msg("served by fallback provider")
			return res, nil
		}
		secondaryErr = err
	} else {
		secondaryErr = newError(r.secondary.Name(), KindNotSupported, "capability %s for %s", req.Capability, inst.Symbol)
	}

	log.Error().Err(secondaryErr).Str("provider", r.secondary.Name()).Msg("fallback provider failed")
	return Result{}, &Error{Kind: KindUnavailable, Provider: fallbackName, Err: errors.Join(primaryErr, secondaryErr)}
}

// translate maps req onto the secondary's native shape.
func (r *Router) translate(inst market.Instrument, req Request) (Request, bool) {
	if r.secondary.Supports(inst, req.Capability) {
		return req, true
	}
	translated := req.AsSeries()
	if translated.Capability != req.Capability && r.secondary.Supports(inst, translated.Capability) {
		return translated, true
	}
	return Request{}, false
}

// attempt runs one call under the per-call timeout and validates the result.
func (r *Router) attempt(ctx context.Context, p Provider, inst market.Instrument, req Request) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.Fetch(callCtx, inst, req)
	if err == nil {
		err = validate(p.Name(), res, req)
	}
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && !HasKind(err, KindTimeout) {
		err = &Error{Kind: KindTimeout, Provider: p.Name(), Err: err}
	}
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			err = classify(p.Name(), err)
		}
	}

	if r.opts.Observer != nil {
		kind := Kind("")
		if err != nil {
			kind = KindOf(err)
		}
		r.opts.Observer.ProviderCall(p.Name(), kind, time.Since(start))
	}
	if err != nil {
		return Result{}, err
	}
	if res.Provider == "" {
		res.Provider = p.Name()
	}
	return res, nil
}

// validate rejects results that cannot satisfy the request.
func validate(provider string, res Result, req Request) error {
	switch {
	case req.Capability.IsSeries():
		if need := req.MinPoints(); res.Series.Len() < need {
			return &Error{Kind: KindInsufficientData, Provider: provider, Err: &indicator.InsufficientDataError{
				Indicator: seriesIndicator(req),
				Need:      need,
				Have:      res.Series.Len(),
			}}
		}
	case req.Capability == CapSMA || req.Capability == CapRSI:
		if res.Value == nil {
			return newError(provider, KindUnavailable, "no %s value returned", req.Capability)
		}
	case req.Capability == CapQuote:
		if !res.Quote.IsPositive() {
			return newError(provider, KindUnavailable, "non-positive quote %s", res.Quote)
		}
	}
	return nil
}

func seriesIndicator(req Request) indicator.Kind {
	if req.Indicator != "" {
		return req.Indicator
	}
	if req.Capability == CapHourlySeries {
		return indicator.KindPercentChange
	}
	return indicator.Kind(req.Capability)
}

var _ Provider = (*Router)(nil)
