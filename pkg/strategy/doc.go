// Package strategy decides when a staged update may be finalized.
//
// A strategy evaluates to Permit or Wait(retry-at). The cluster-coordinated
// strategy additionally speaks the client side of a distributed
// reboot-semaphore protocol; its local lease mirror is reconciled against
// the remote service on every check and never trusted on its own.
package strategy
