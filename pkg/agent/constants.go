package agent

// MaxAlertDataSize caps the serialized alert payload at 1 MiB. Oversized
// alerts are rejected at submission with 413 before a session is created.
const MaxAlertDataSize = 1 << 20
