package sim

const (
	ErrTypeNotFound     = "sim_not_found"
	ErrTypeInvalidInput = "sim_invalid_input"
	ErrTypeCooldown     = "sim_cooldown"
	ErrTypeFull         = "sim_full"
)
