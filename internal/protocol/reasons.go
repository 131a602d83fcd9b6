package protocol

// Reason codes attached to failed action results. Clients branch on these,
// so they are stable identifiers rather than prose.
const (
	ReasonValidationFailed   = "ValidationFailed"
	ReasonInsufficientEnergy = "InsufficientEnergy"
	ReasonInsufficientWallet = "InsufficientWallet"
	ReasonOutOfStock         = "OutOfStock"
	ReasonNotInBuilding      = "NotInBuilding"
	ReasonWrongBuilding      = "WrongBuilding"
	ReasonRangeExceeded      = "RangeExceeded"
	ReasonCooldown           = "Cooldown"
	ReasonAlreadyVoted       = "AlreadyVoted"
	ReasonNoOpenings         = "NoOpenings"
	ReasonNotEmployed        = "NotEmployed"
	ReasonAlreadyDead        = "AlreadyDead"
	ReasonUBIDisabled        = "UBIDisabled"
	ReasonNoPath             = "NoPath"
	ReasonUnknownResident    = "UnknownResident"
	ReasonNotFound           = "NotFound"
	ReasonImprisoned         = "Imprisoned"
	ReasonAsleep             = "Asleep"
	ReasonBadCredential      = "BadCredential"
	ReasonSpectator          = "Spectator"
)
