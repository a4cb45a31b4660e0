// Package pipeline runs the report cycle: check sources, build the report,
// deliver it.
//
// A scheduled run broadcasts to every subscriber and is skipped outright
// when there are none. An on-demand run serves the one chat that asked and
// returns its failure to the caller.
package pipeline
