package inference

// StaticDetector returns the same records for every input. It stands in for a
// real model when exercising the pipeline end to end.
type StaticDetector struct {
	Side    int
	Records []Record
}

// NewStaticDetector returns a detector reporting a fixed pair of boxes.
func NewStaticDetector(side int) *StaticDetector {
	return &StaticDetector{
		Side: side,
		Records: []Record{
			{FieldX: 0.10, FieldY: 0.20, FieldW: 0.30, FieldH: 0.40, FieldLabel: "person", FieldScore: 0.90},
			{FieldX: 0.55, FieldY: 0.50, FieldW: 0.25, FieldH: 0.25, FieldLabel: "cup", FieldScore: 0.60},
		},
	}
}

// InputSize implements Detector.
func (s *StaticDetector) InputSize() int { return s.Side }

// Detect implements Detector.
func (s *StaticDetector) Detect(buf *Buffer) ([]Record, error) {
	out := make([]Record, len(s.Records))
	for i, r := range s.Records {
		c := make(Record, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out, nil
}
