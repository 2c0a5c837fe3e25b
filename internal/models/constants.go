package models

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// SlotStatus is the occupancy state of a slot record.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "AVAILABLE"
	SlotLockedIn    SlotStatus = "LOCKED_IN"
	SlotUnavailable SlotStatus = "UNAVAILABLE"
	SlotExpired     SlotStatus = "EXPIRED"
)

// OperatorSource tells who moved a slot record into its current state.
type OperatorSource string

const (
	SourceUser     OperatorSource = "USER"
	SourceMerchant OperatorSource = "MERCHANT"
	SourceSystem   OperatorSource = "SYSTEM"
)

func (s OperatorSource) Valid() bool {
	switch s {
	case SourceUser, SourceMerchant, SourceSystem:
		return true
	}
	return false
}

type ActivityStatus string

const (
	ActivityActive    ActivityStatus = "ACTIVE"
	ActivityCancelled ActivityStatus = "CANCELLED"
)

type ActivityLockStatus string

const (
	ActivityLockActive   ActivityLockStatus = "ACTIVE"
	ActivityLockReleased ActivityLockStatus = "RELEASED"
)

// ChargeLevel decides whether an extra charge applies once per order or per court.
type ChargeLevel string

const (
	ChargeLevelOrder ChargeLevel = "ORDER"
	ChargeLevelItem  ChargeLevel = "ITEM"
)

type ChargeMode string

const (
	ChargeModePercent ChargeMode = "PERCENT"
	ChargeModeFixed   ChargeMode = "FIXED"
)

// DayKind selects which price column of a period applies.
type DayKind string

const (
	DayWeekday DayKind = "WEEKDAY"
	DayWeekend DayKind = "WEEKEND"
	DayHoliday DayKind = "HOLIDAY"
)

const (
	// DefaultLockWaitTimeout bounded wait for acquiring a whole key set
	DefaultLockWaitTimeout = 3 // seconds

	// DefaultLockLeaseTTL lease on each slot key
	DefaultLockLeaseTTL = 30 // seconds

	// DefaultLockRetryInterval pause between acquisition attempts
	DefaultLockRetryInterval = 50 // milliseconds

	// DefaultMaxAdvanceDays how far ahead a slot can be booked
	DefaultMaxAdvanceDays = 60

	// DefaultPregenerateDays how many upcoming days get slot records in bulk
	DefaultPregenerateDays = 14
)
