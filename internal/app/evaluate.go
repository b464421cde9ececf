package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"market-sentinel/internal/market"
	"market-sentinel/internal/service"
)

// Evaluate runs one immediate cycle over the configured instruments and
// prints what happened to every signal key.
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) error {
	eng, err := a.buildEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	instruments := filterInstruments(a.Config.InstrumentList(), opts.Symbols)
	if len(instruments) == 0 {
		return fmt.Errorf("no configured instrument matches %v", opts.Symbols)
	}

	var results []service.CycleResult
	for _, crypto := range []bool{false, true} {
		var family []market.Instrument
		for _, inst := range instruments {
			if inst.IsCrypto() == crypto {
				family = append(family, inst)
			}
		}
		if len(family) > 0 {
			results = append(results, eng.service.RunCycle(ctx, family, a.Config.IndicatorsFor(crypto))...)
		}
	}

	printResults(os.Stdout, results)
	sum := service.Summarize(results)
	a.Logger.Info().Int("emitted", sum.Emitted).Int("suppressed", sum.Suppressed).
		Int("queued", sum.Queued).Int("failed", sum.Failed).Msg("evaluation complete")
	return nil
}

func filterInstruments(all []market.Instrument, symbols []string) []market.Instrument {
	if len(symbols) == 0 {
		return all
	}
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	var out []market.Instrument
	for _, inst := range all {
		if _, ok := want[inst.Symbol]; ok {
			out = append(out, inst)
		}
	}
	return out
}

func printResults(w io.Writer, results []service.CycleResult) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Key\tLevel\tRegime\tOutcome\tDetail")
	for _, r := range results {
		level, regime, outcome, detail := "-", "-", "-", ""
		if r.Event != nil {
			level, regime, outcome = string(r.Event.Level), string(r.Event.Regime), string(r.Outcome)
			detail = r.Event.Message
		}
		if r.Err != nil {
			detail = sanitizeInline(r.Err.Error())
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", r.Key, level, regime, outcome, detail)
	}
	writer.Flush()
}
