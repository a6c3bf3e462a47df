package domain

// ViolationType names a traffic offence recorded on a challan.
type ViolationType string

// The fixed violation catalog.
const (
	ViolationRedLight      ViolationType = "Red Light Violation"
	ViolationNoHelmet      ViolationType = "No Helmet"
	ViolationOverSpeeding  ViolationType = "Over Speeding"
	ViolationWrongSide     ViolationType = "Wrong Side Driving"
	ViolationTripleRiding  ViolationType = "Triple Riding"
	ViolationNoSeatBelt    ViolationType = "No Seat Belt"
	ViolationMobileUse     ViolationType = "Using Mobile While Driving"
	ViolationIllegalPark   ViolationType = "Illegal Parking"
	ViolationStopLineCross ViolationType = "Stop Line Crossing"
)

// DefaultFine applies to violation types missing from the fine table.
const DefaultFine uint = 200

var violationCatalog = []ViolationType{
	ViolationRedLight,
	ViolationNoHelmet,
	ViolationOverSpeeding,
	ViolationWrongSide,
	ViolationTripleRiding,
	ViolationNoSeatBelt,
	ViolationMobileUse,
	ViolationIllegalPark,
	ViolationStopLineCross,
}

var fineTable = map[ViolationType]uint{
	ViolationRedLight:     500,
	ViolationNoHelmet:     200,
	ViolationOverSpeeding: 1500,
	ViolationWrongSide:    1000,
	ViolationTripleRiding: 1000,
	ViolationNoSeatBelt:   300,
	ViolationMobileUse:    1500,
	ViolationIllegalPark:  500,
}

// ViolationTypes returns the catalog in a stable order.
func ViolationTypes() []ViolationType {
	out := make([]ViolationType, len(violationCatalog))
	copy(out, violationCatalog)
	return out
}

// FineFor returns the fine amount for a violation type.
func FineFor(v ViolationType) uint {
	if amount, ok := fineTable[v]; ok {
		return amount
	}
	return DefaultFine
}
