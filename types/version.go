package types

// Version is the canonical project version.
// The CLI, checkpoint schema, and journal schema share this version
// per the lockstep versioning policy.
const Version = "0.3.0"
