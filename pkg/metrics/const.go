package metrics

const (
	// StatusSucceed succeed
	StatusSucceed = "succeed"
	// StatusFailed failed
	StatusFailed = "failed"

	// ActionRegister register a cross shard transaction
	ActionRegister = "register"
	// ActionVote receive a prepare vote
	ActionVote = "vote"
	// ActionCommit commit decision executed
	ActionCommit = "commit"
	// ActionFinalize commit finalized with receipts
	ActionFinalize = "finalize"
	// ActionAbort abort decision executed
	ActionAbort = "abort"
	// ActionRecover coordinator recovery attempt
	ActionRecover = "recover"

	// ActionAcquire acquire a state lock
	ActionAcquire = "acquire"
	// ActionRelease release a state lock
	ActionRelease = "release"
	// ActionExpire expire an abandoned state lock
	ActionExpire = "expire"
)

const (
	// ReasonPrepare aborted in phase one
	ReasonPrepare = "prepare"
	// ReasonTimeout aborted by block height timeout
	ReasonTimeout = "timeout"
	// ReasonEpoch aborted at the epoch boundary
	ReasonEpoch = "epoch"
)
