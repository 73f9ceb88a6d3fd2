// Package platform defines the interface to the host's OS-update daemon
// and the error taxonomy its implementations report. The daemon itself is
// an external collaborator; this package only shapes the calls the agent
// makes against it.
package platform
