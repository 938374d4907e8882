package snow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRange    = errors.New("invalid date range")
	ErrDataUnavailable = errors.New("data unavailable")
	ErrInvalidOptions  = errors.New("invalid options")
)

const dateLayout = "2006-01-02"

// InvalidRangeError is returned before any computation when Start is after End.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("%v: start %s is after end %s", ErrInvalidRange, e.Start.Format(dateLayout), e.End.Format(dateLayout))
}

func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// DataUnavailableError reports that the provider returned nothing usable for the range.
// It is propagated as-is; the engine never retries.
type DataUnavailableError struct {
	Start time.Time
	End   time.Time
	Err   error
}

func (e *DataUnavailableError) Error() string {
	msg := fmt.Sprintf("%v for %s..%s", ErrDataUnavailable, e.Start.Format(dateLayout), e.End.Format(dateLayout))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// NewDataUnavailableError builds a DataUnavailableError for the given range.
func NewDataUnavailableError(start, end time.Time, cause error) error {
	return &DataUnavailableError{Start: truncateDay(start), End: truncateDay(end), Err: cause}
}
