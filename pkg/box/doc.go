// Package box models one CB HV box and runs its configuration transaction.
//
// It contains:
//
//   - Box and Card: addressing of a box and its five cards
//   - Phase: the steps of the linear configuration state machine
//   - Result: per-card and per-box outcome, shared by the fleet driver,
//     the calibration variant and the CLI report
//   - Configurator: the transaction itself (unprotect, card writes, mode
//     toggle, protect, persist, verify) against a Commander
//
// Device failures never escape as errors. They degrade a single card or
// mark the box dead in the Result, so one bad box cannot stop a fleet run.
package box
