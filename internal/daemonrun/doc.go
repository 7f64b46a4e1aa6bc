// Package daemonrun bootstraps the upright process: logging, preflight,
// the optional journal, and the daemon lifecycle behind `upright run`.
package daemonrun
