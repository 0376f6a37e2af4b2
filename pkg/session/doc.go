// Package session implements the prompt-framed request/response exchange
// with one CB HV box over telnet.
//
// Every interaction with a box is half-duplex: write one line terminated by
// CRLF, then block until the device prints its prompt (">"). A Session owns
// exactly one connection and is never shared between boxes or goroutines.
//
// Device failures are not returned as errors. SendCommand reports them in
// the Outcome so callers can branch on the failure kind:
//
//   - FailureConnectionClosed: the box dropped the connection; the Session
//     is unusable afterwards.
//   - FailureTimeout: no prompt arrived within the allotted window; the
//     Session stays open. The late reply is read and discarded before the
//     next command is written, so replies never shift onto later commands.
//     While it is still missing, further commands fail with FailureTimeout
//     without being sent.
//   - FailureCanceled: the caller's context ended while waiting; the
//     Session is unusable afterwards.
//
// Only Open returns an error, a *ConnectionError, when the box cannot be
// reached at all.
package session
