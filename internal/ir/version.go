package ir

// EngineVersion is the syncbook engine version.
const EngineVersion = "0.1.0"
