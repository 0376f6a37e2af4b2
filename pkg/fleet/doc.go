// Package fleet drives a job over a list of boxes.
//
// For every box the driver derives the host name, opens a session, runs the
// job (configure or measure) and closes the session again, whatever the
// outcome. A box that cannot be reached or fails half way is recorded as
// dead and the run moves on. Boxes run one after the other unless a
// parallelism above one is configured.
package fleet
