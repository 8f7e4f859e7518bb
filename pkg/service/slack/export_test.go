package slack

// Export internal functions for testing
var (
	BuildTransitionMessage = buildTransitionMessage
	TruncateToMaxBytes     = truncateToMaxBytes
)
