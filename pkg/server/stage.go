package server

// Stage is a point in the request lifecycle. A request that fails is
// recorded with the stage at which it stopped; a successful one ends in
// StageCompleted.
type Stage string

const (
	StageReceived   Stage = "received"
	StageParsed     Stage = "parsed"
	StageResolved   Stage = "resolved"
	StageValidated  Stage = "validated"
	StageAuthorized Stage = "authorized"
	StageInvoked    Stage = "invoked"
	StageSerialized Stage = "serialized"
	StageCompleted  Stage = "completed"
)
