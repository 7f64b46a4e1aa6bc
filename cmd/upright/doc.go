// Command upright watches an input directory for photos, asks an orientation
// decider how far each one is rotated, and writes an upright copy to the
// output directory.
//
// Subcommands:
//
//	run      process the input tree and watch for new files (--once to drain and exit)
//	status   show instance and journal state
//	reset    clear journal entries so failed files are retried
//	check    run preflight checks
//	config   create, show, or validate configuration
package main
