package audio

// Resampler converts a stream of stereo frames between sample rates by
// linear interpolation. It holds back one input frame between calls.
type Resampler struct {
	from, to int
	step     float64 // input frames per output frame
	pos      float64 // offset of the next output past prev, in input frames
	prev     [2]float64
	primed   bool
}

// NewResampler creates a resampler from one rate to another
func NewResampler(from, to int) *Resampler {
	return &Resampler{
		from: from,
		to:   to,
		step: float64(from) / float64(to),
	}
}

// Resample consumes in and returns the frames that can be produced so far
func (r *Resampler) Resample(in [][2]float64) [][2]float64 {
	out := make([][2]float64, 0, int(float64(len(in))/r.step)+2)
	for _, f := range in {
		if !r.primed {
			r.prev = f
			r.primed = true
			continue
		}
		for r.pos < 1 {
			out = append(out, lerp(r.prev, f, r.pos))
			r.pos += r.step
		}
		r.pos -= 1
		r.prev = f
	}
	return out
}

// Flush returns the frames still owed for the last input frame and resets
func (r *Resampler) Flush() [][2]float64 {
	if !r.primed {
		return nil
	}
	var out [][2]float64
	for r.pos < 1 {
		out = append(out, r.prev)
		r.pos += r.step
	}
	r.Reset()
	return out
}

// Reset drops the held frame
func (r *Resampler) Reset() {
	r.pos = 0
	r.prev = [2]float64{}
	r.primed = false
}

func lerp(a, b [2]float64, t float64) [2]float64 {
	return [2]float64{
		a[0] + (b[0]-a[0])*t,
		a[1] + (b[1]-a[1])*t,
	}
}
