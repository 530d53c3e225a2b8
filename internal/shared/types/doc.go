// Package types provides the value types shared by workspace components.
//
// Core Types:
//   - Credentials: the host-system identity sent with credentialed calls
//   - Container, MemberInfo, ResourceRef: the remote resource tree
//   - SaveStatus, BufferState: buffer lifecycle
//   - JobStatus, OutputStream: job tracking
//   - Mode, Role, CommandProposal: assistant conversations
package types
