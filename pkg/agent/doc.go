// Package agent implements the host's update orchestration state machine.
//
// The agent periodically resolves an update candidate from the remote graph
// service, stages it through the local transactional update daemon, then
// finalizes it once the configured strategy permits. Every state transition
// is persisted before it takes effect, so a crash or reboot at any point
// resumes from the last committed state. The daemon remains authoritative
// for what is actually deployed; the agent re-reads its status before any
// irreversible action.
package agent
