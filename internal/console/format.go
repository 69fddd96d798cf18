// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package console

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/plugin"
)

// WritePluginTable writes one row per plugin, numbered from 1 in the order
// given.
func WritePluginTable(w io.Writer, plugins []plugin.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tVERSION\tSTATUS\tLOAD\tUNLOAD\tCAUSE")
	for i, st := range plugins {
		cause := "-"
		if st.Displayed != plugin.CauseNone {
			cause = st.Displayed.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			st.Descriptor.Name,
			st.Descriptor.Version,
			st.State,
			st.Descriptor.Loadable,
			st.Descriptor.Unloadable,
			cause)
	}
	if err := tw.Flush(); err != nil {
		return oops.Wrapf(err, "write plugin table")
	}
	return nil
}

// WriteRefreshReport summarizes a refresh, one line per kind of change.
func WriteRefreshReport(w io.Writer, r plugin.RefreshReport) error {
	sections := []struct {
		label string
		names []string
	}{
		{"registered", r.Registered},
		{"loaded", r.Loaded},
		{"unloaded", r.Unloaded},
		{"pending", r.Deferred},
		{"restored", r.Restored},
		{"purged", r.Purged},
	}
	var b strings.Builder
	for _, s := range sections {
		if len(s.names) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", s.label, strings.Join(s.names, ", "))
	}
	if b.Len() == 0 {
		b.WriteString("no changes\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
