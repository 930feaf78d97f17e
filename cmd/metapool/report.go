package main

import (
	"fmt"
	"io"
	"math/big"
	"slices"
	"text/tabwriter"

	"github.com/defistate/metapool-go/events"
)

const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Red   = "\033[31m"
	Green = "\033[32m"
	Cyan  = "\033[36m"
	Gray  = "\033[90m"
)

func header(w io.Writer, title string) {
	fmt.Fprintln(w, "\n"+Bold+Cyan+":: "+title+" ::"+Reset)
}

func printReport(out io.Writer, r *runner) {
	printSteps(out, r)
	printManagers(out, r)
	printEvents(out, r.memory.Records())
}

func printSteps(out io.Writer, r *runner) {
	header(out, "STEPS")
	w := tabwriter.NewWriter(out, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "#\tACTION\tACCOUNT\tPAIR\tAMOUNT0\tAMOUNT1\tRESULT\t")
	fmt.Fprintln(w, "-\t------\t-------\t----\t-------\t-------\t------\t")
	for _, res := range r.results {
		status := Green + "ok" + Reset
		if res.Err != nil {
			status = Red + res.Err.Error() + Reset
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s/%s\t%s\t%s\t%s\t\n",
			res.Index, res.Step.Action, res.Step.Account, res.Step.Pair[0], res.Step.Pair[1],
			amount(res.Amount0), amount(res.Amount1), status)
	}
	w.Flush()
}

func printManagers(out io.Writer, r *runner) {
	header(out, "MANAGERS")
	w := tabwriter.NewWriter(out, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tPAIR\tFEE\tRANGE\tSHARES\tLIQUIDITY\tPENDING\t")
	fmt.Fprintln(w, "-------\t----\t---\t-----\t------\t---------\t-------\t")
	for _, m := range r.factory.AllManagers() {
		pending := Gray + "-" + Reset
		if p, ok := m.PendingParams(); ok {
			pending = fmt.Sprintf("[%d, %d) @ %d", p.LowerTick, p.UpperTick, p.FeeTier)
		}
		fmt.Fprintf(w, "%s\t%s/%s\t%d\t[%d, %d)\t%s\t%s\t%s\t\n",
			m.Address().Hex(), r.symbol(m.Token0()), r.symbol(m.Token1()), m.CurrentUniswapFee(),
			m.CurrentLowerTick(), m.CurrentUpperTick(), m.TotalShares().Dec(), m.PositionLiquidity(), pending)
	}
	w.Flush()
}

func printEvents(out io.Writer, records []events.Record) {
	header(out, "EVENTS")
	counts := make(map[events.Kind]int)
	for _, rec := range records {
		counts[rec.Kind]++
	}
	kinds := make([]events.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	w := tabwriter.NewWriter(out, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "KIND\tCOUNT\t")
	fmt.Fprintln(w, "----\t-----\t")
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%d\t\n", k, counts[k])
	}
	w.Flush()
}

func amount(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}
