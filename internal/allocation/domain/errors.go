package allocation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMonth is returned when a month cannot be resolved to MMYYYY.
	ErrInvalidMonth = errors.New("allocation: invalid month")
	// ErrInvalidType is returned for an unknown allocation type.
	ErrInvalidType = errors.New("allocation: invalid type")
	// ErrMissingCompanyID is matched by MissingCompanyIDError.
	ErrMissingCompanyID = errors.New("allocation: missing company id")
	// ErrProductionSiteNotFound is matched by ProductionSiteNotFoundError.
	ErrProductionSiteNotFound = errors.New("allocation: production site not found")
	// ErrMissingConsumptionSite is returned when an ALLOCATION row has no consumption site.
	ErrMissingConsumptionSite = errors.New("allocation: missing consumption site id")
)

// MissingCompanyIDError reports a storage key that cannot be built because no
// company id resolves for the production site.
type MissingCompanyIDError struct {
	ProductionSiteID  string
	ConsumptionSiteID string
	Month             MonthKey
}

func (e *MissingCompanyIDError) Error() string {
	msg := fmt.Sprintf("allocation: missing company id for production site %q month %s", e.ProductionSiteID, e.Month)
	if e.ConsumptionSiteID != "" {
		msg += fmt.Sprintf(" consumption site %q", e.ConsumptionSiteID)
	}
	return msg
}

// Is matches ErrMissingCompanyID.
func (e *MissingCompanyIDError) Is(target error) bool {
	return target == ErrMissingCompanyID
}

// ProductionSiteNotFoundError reports a production site absent from the
// supplied directory.
type ProductionSiteNotFoundError struct {
	ProductionSiteID  string
	ConsumptionSiteID string
	Month             MonthKey
}

func (e *ProductionSiteNotFoundError) Error() string {
	msg := fmt.Sprintf("allocation: production site %q not found (month %s", e.ProductionSiteID, e.Month)
	if e.ConsumptionSiteID != "" {
		msg += fmt.Sprintf(", consumption site %q", e.ConsumptionSiteID)
	}
	return msg + ")"
}

// Is matches ErrProductionSiteNotFound.
func (e *ProductionSiteNotFoundError) Is(target error) bool {
	return target == ErrProductionSiteNotFound
}
