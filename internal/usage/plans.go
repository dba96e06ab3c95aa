package usage

// Quota defaults and recurring allotments. The legacy ceiling applies to
// records created on first sight of a new identity; billing webhooks raise it
// when a subscription is purchased.
const (
	// DefaultMaxTokenUsage is the legacy/free tier token ceiling.
	DefaultMaxTokenUsage int64 = 100_000
	// DefaultMaxAudioMinutes is the legacy/free tier transcription ceiling.
	DefaultMaxAudioMinutes int64 = 0

	// MonthlyTokenLimit is the recurring token allotment for paid plans.
	MonthlyTokenLimit int64 = 5_000_000
	// MonthlyAudioMinutes is the recurring transcription allotment for paid plans.
	MonthlyAudioMinutes int64 = 300
)

// LegacyPlanName labels records that predate plan tracking.
const LegacyPlanName = "Legacy Plan"
