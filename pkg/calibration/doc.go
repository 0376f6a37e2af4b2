// Package calibration runs the correction value measurement on a box. It
// contains:
//
//   - Settings: voltage sweep, waiting time and output file pattern
//   - Phase: the discrete steps of the measurement state machine
//   - Measurer: sets the board clock, then sweeps every card through the
//     setpoints and records the raw ADC readout per card in its own file
//
// The Measurer reports through box.Result so the fleet driver and the CLI
// report treat measured boxes exactly like configured ones.
package calibration
