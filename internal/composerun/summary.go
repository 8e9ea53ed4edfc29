package composerun

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// PrintShutdownSummary renders the post-shutdown service and delegate
// tables. No table-rendering library is wired into this build (none exists
// across the example set this module was grounded on), so this uses the
// standard library's tabwriter instead.
func PrintShutdownSummary(w io.Writer, o *Orchestrator) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)

	fmt.Fprintln(tw, "SERVICE\tSTATUS\tRUNS\tERRORS")
	names := make([]string, 0, len(o.services))
	for name := range o.services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := o.services[name]
		fmt.Fprintf(tw, "%s\tok\t%d\t%d\n", name, svc.RunCount(), svc.ErrorCount())
	}
	failedNames := make([]string, 0, len(o.failedServices))
	for name := range o.failedServices {
		failedNames = append(failedNames, name)
	}
	sort.Strings(failedNames)
	for _, name := range failedNames {
		fmt.Fprintf(tw, "%s\tfailed\t-\t%s\n", name, o.failedServices[name])
	}
	tw.Flush()

	health := o.DelegateHealth()
	if len(health) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTARGET\tDROPPED\tFILTERED\tCIRCUIT")
	for _, info := range health {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", info.Source, info.Target, info.DroppedCount, info.FilteredCount, info.CircuitState)
	}
	tw.Flush()
}
