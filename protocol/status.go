package protocol

import "strconv"

// Status is the decoded form of an STR reply's parameter list.
//
// The controller reports six integer fields: the driving state followed by the
// emergency-stop, CW limit, CCW limit, soft-limit and correction-range flags. Only the
// driving state is mandatory; the remaining fields default to zero when the firmware
// omits them.
type Status struct {
	// Driving is the raw driving-state integer; zero means the axis is stopped.
	Driving int
	// Emergency is nonzero while the emergency-stop input is asserted.
	Emergency int
	// LimitCW is nonzero while the clockwise hardware limit is active.
	LimitCW int
	// LimitCCW is nonzero while the counter-clockwise hardware limit is active.
	LimitCCW int
	// SoftLimit is nonzero while a software travel limit is active.
	SoftLimit int
	// CorrectionRange is nonzero while the axis is inside the backlash correction range.
	CorrectionRange int
}

// Running returns true when the axis is in motion.
func (s Status) Running() bool { return s.Driving != 0 }

// ParseStatus decodes an STR reply's params into a Status.
// It returns ErrMissingParam when the driving-state field is absent and a strconv error
// when a present field is not an integer.
func ParseStatus(params []string) (Status, error) {
	var st Status
	if len(params) == 0 {
		return st, ErrMissingParam
	}

	dst := []*int{
		&st.Driving, &st.Emergency, &st.LimitCW, &st.LimitCCW, &st.SoftLimit, &st.CorrectionRange,
	}
	for i, p := range params {
		if i >= len(dst) {
			break
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return st, err
		}
		*dst[i] = v
	}

	return st, nil
}
