package vref

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// Stats is a point-in-time snapshot of a Space's in-process bookkeeping.
// It deliberately reports only what the process can answer without a
// full backend scan (live handles, pinned addresses); per-table record
// counts are not reported, here or by cmd/vrefctl.
type Stats struct {
	LiveIVRs    int
	LivePVs     int
	PinnedAddrs int
}

// Stats returns a snapshot of s's ephemeron table occupancy.
func (s *Space) Stats() Stats {
	return Stats{
		LiveIVRs:    s.ivrs.Len(),
		LivePVs:     s.pvs.Len(),
		PinnedAddrs: s.pinIndex.Len(),
	}
}

// String formats Stats as an aligned, tab-separated report using
// text/tabwriter, the idiomatic stdlib answer for columnar CLI output
// when nothing else in this tree needs a dedicated formatting library.
func (st Stats) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "live ivrs\t%d\n", st.LiveIVRs)
	fmt.Fprintf(w, "live pvs\t%d\n", st.LivePVs)
	fmt.Fprintf(w, "pinned addresses\t%d\n", st.PinnedAddrs)
	w.Flush()
	return b.String()
}
