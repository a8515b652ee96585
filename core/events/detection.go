package events

import "strings"

// Detection carries one batch of perceptual observations extracted from a
// single frame.
type Detection struct {
	Base
	// Objects lists detected object labels, most confident first.
	Objects []string
	// Confidence is the lowest confidence among the listed objects.
	Confidence float64
}

// Summary renders the detection as a short grounding line, e.g.
// "objects in view: cup, keyboard".
func (d Detection) Summary() string {
	if len(d.Objects) == 0 {
		return ""
	}
	return "objects in view: " + strings.Join(d.Objects, ", ")
}

func NewDetection(source string, objects []string, confidence float64) Detection {
	return Detection{
		Base:       NewBase(TopicDetection, source),
		Objects:    objects,
		Confidence: confidence,
	}
}
