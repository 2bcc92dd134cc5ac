// Package inharmonic corrects pitch estimates for string stiffness. Real
// strings are stiff, so their partials fall sharp of exact integer multiples
// of the fundamental; an estimator locking onto those partials reads sharp.
// The correction inverts the standard stiff-string partial model
// f_n = n·f0·sqrt(1 + B·n²) using per-instrument, per-register coefficients.
//
// References:
//   - Fletcher, Blackham, Stratton (1962). Quality of piano tones.
//     JASA 34(6)
//   - Järveläinen, Välimäki, Karjalainen (2001). Audibility of the
//     timbral effects of inharmonicity in stringed instrument tones.
//     Acoustics Research Letters Online 2(3)
package inharmonic

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/RyanBlaney/sonido-pitch/algorithms/common"
)

// Band assigns a stiffness coefficient to a frequency register. Low is
// inclusive, High exclusive.
type Band struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
	B    float64 `json:"b"`
}

// Model is a named instrument's stiffness profile across its registers.
type Model struct {
	Name  string `json:"name"`
	Bands []Band `json:"bands"`
}

// builtinModels covers common instruments. Coefficients follow published
// measurements; bass registers of struck strings are the stiffest, bowed
// strings much less so, and non-string sources carry no correction.
var builtinModels = map[string]Model{
	"piano": {Name: "piano", Bands: []Band{
		{Low: 50, High: 200, B: 0.0008},
		{Low: 200, High: 1000, B: 0.0002},
		{Low: 1000, High: 4000, B: 0.0015},
	}},
	"guitar": {Name: "guitar", Bands: []Band{
		{Low: 80, High: 200, B: 0.00015},
		{Low: 200, High: 600, B: 0.00008},
		{Low: 600, High: 2000, B: 0.0002},
	}},
	"bass": {Name: "bass", Bands: []Band{
		{Low: 30, High: 100, B: 0.0006},
		{Low: 100, High: 250, B: 0.0003},
		{Low: 250, High: 800, B: 0.0004},
	}},
	"violin": {Name: "violin", Bands: []Band{
		{Low: 190, High: 400, B: 0.00005},
		{Low: 400, High: 1200, B: 0.00003},
		{Low: 1200, High: 3600, B: 0.00008},
	}},
	"cello": {Name: "cello", Bands: []Band{
		{Low: 60, High: 200, B: 0.00012},
		{Low: 200, High: 700, B: 0.00006},
		{Low: 700, High: 2200, B: 0.0001},
	}},
	"voice": {Name: "voice", Bands: []Band{
		{Low: 50, High: 2000, B: 0},
	}},
	"winds": {Name: "winds", Bands: []Band{
		{Low: 50, High: 4000, B: 0},
	}},
}

// ModelFor returns the builtin model for an instrument name,
// case-insensitively. Unknown names are an error.
func ModelFor(instrument string) (Model, error) {
	m, ok := builtinModels[strings.ToLower(strings.TrimSpace(instrument))]
	if !ok {
		return Model{}, fmt.Errorf("inharmonic: unknown instrument %q", instrument)
	}
	return m, nil
}

// Instruments returns the builtin instrument names, sorted.
func Instruments() []string {
	names := make([]string, 0, len(builtinModels))
	for name := range builtinModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CalculateHarmonic returns the frequency of partial n of a stiff string
// with fundamental f0 and stiffness coefficient b.
func CalculateHarmonic(f0 float64, n int, b float64) float64 {
	nf := float64(n)
	return nf * f0 * math.Sqrt(1.0+b*nf*nf)
}

// Corrector applies stiffness correction to measured frequencies.
//
// Corrector is not safe for concurrent use.
type Corrector struct {
	model Model
}

// NewCorrector creates a corrector for the named builtin instrument.
func NewCorrector(instrument string) (*Corrector, error) {
	model, err := ModelFor(instrument)
	if err != nil {
		return nil, err
	}
	return &Corrector{model: model}, nil
}

// NewCorrectorWithModel creates a corrector from a custom model. The model
// must have at least one band with Low < High and non-negative B.
func NewCorrectorWithModel(model Model) (*Corrector, error) {
	if len(model.Bands) == 0 {
		return nil, fmt.Errorf("inharmonic: model %q has no bands", model.Name)
	}
	for i, band := range model.Bands {
		if band.Low >= band.High {
			return nil, fmt.Errorf("inharmonic: model %q band %d range [%v, %v) is invalid", model.Name, i, band.Low, band.High)
		}
		if band.B < 0 {
			return nil, fmt.Errorf("inharmonic: model %q band %d has negative coefficient", model.Name, i)
		}
	}
	return &Corrector{model: model}, nil
}

// SetInstrument switches to a different builtin instrument.
func (c *Corrector) SetInstrument(instrument string) error {
	model, err := ModelFor(instrument)
	if err != nil {
		return err
	}
	c.model = model
	return nil
}

// Model returns the active model.
func (c *Corrector) Model() Model {
	return c.model
}

// Correct maps a measured frequency to the corrected fundamental, blending
// the full correction by the estimate's confidence. At confidence 1 the full
// stiff-string inverse is applied; at 0 the measurement passes through. It
// returns the corrected frequency and the applied offset in cents (negative
// when the measurement read sharp).
func (c *Corrector) Correct(measured, confidence float64) (corrected, cents float64) {
	if measured <= 0 {
		return measured, 0
	}

	b := c.coefficientFor(measured)
	if b == 0 {
		return measured, 0
	}

	full := measured / math.Sqrt(1.0+b)
	cents = 1200.0 * math.Log2(full/measured) * common.Clamp(confidence, 0, 1)
	corrected = measured * math.Pow(2.0, cents/1200.0)
	return corrected, cents
}

// coefficientFor picks the band containing freq. Frequencies outside every
// band use the nearest band's coefficient.
func (c *Corrector) coefficientFor(freq float64) float64 {
	bands := c.model.Bands
	for _, band := range bands {
		if freq >= band.Low && freq < band.High {
			return band.B
		}
	}
	if freq < bands[0].Low {
		return bands[0].B
	}
	return bands[len(bands)-1].B
}
