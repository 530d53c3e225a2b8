// Package paths defines where the workspace keeps local state and how
// member references are written.
//
// # Directory Structure
//
//	~/.zcraft/
//	  ├── profile.toml   (host, port and username; never the password)
//	  └── history        (interactive shell history)
//
// # References
//
// A member is written as DATASET(MEMBER), for example USER.JCL(HELLO).
package paths
