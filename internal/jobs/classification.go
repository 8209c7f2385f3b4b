package jobs

// Classification decides which accumulator a job's quantities feed.
type Classification int

const (
	Unclassified Classification = iota
	FirmBooked
	FirmReserved
	SoftProvisional
)

func (c Classification) String() string {
	switch c {
	case FirmBooked:
		return "booked"
	case FirmReserved:
		return "reserved"
	case SoftProvisional:
		return "provisional"
	default:
		return "unclassified"
	}
}

func (c Classification) Firm() bool {
	return c == FirmBooked || c == FirmReserved
}

func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Rules holds the remote system's state and status codes. They belong to the
// remote domain model, so they are configuration rather than constants.
type Rules struct {
	DraftState       int
	ProvisionalState int
	ReservedState    int
	OrderState       int
	ConfirmedStatus  int
}

// DefaultRules are the codes documented by the remote API:
// state 1=draft, 2=provisional, 3=reserved, 4=order; status 60=confirmed.
func DefaultRules() Rules {
	return Rules{
		DraftState:       1,
		ProvisionalState: 2,
		ReservedState:    3,
		OrderState:       4,
		ConfirmedStatus:  60,
	}
}

func (r Rules) Classify(j Job) Classification {
	switch {
	case j.State == r.OrderState:
		return FirmBooked
	case j.State == r.ReservedState && j.Status == r.ConfirmedStatus:
		return FirmReserved
	case j.State == r.DraftState, j.State == r.ProvisionalState:
		return SoftProvisional
	default:
		return Unclassified
	}
}
