package sweep

import (
	"encoding/json"
	"fmt"
	"io"
)

// DataType tells noise records from dIdV records.
type DataType string

// Record data types.
const (
	TypeNoise DataType = "noise"
	TypeDIDV  DataType = "didv"
)

// Record is one row of a processed sweep: one bias setting, series and
// channel.
//
// All traces are in the time domain and in amperes. AvgTrace is the
// averaged raw trace of the series; only the flat-trace check reads it.
// DIDVMean is the averaged response to the square-wave drive, folded onto
// the drive period: its first SampleRate/DriveFreq samples are one period
// starting at a rising edge of the drive. DIDVStd is the standard error of
// each DIDVMean sample and must be as long as DIDVMean when present.
// Producers that store the admittance itself, already transformed to the
// frequency domain, must export the folded time trace instead; dIdV
// records fail spectrum computation otherwise.
type Record struct {
	Bias       float64   `json:"qetbias"`
	Series     string    `json:"seriesnum"`
	Channel    string    `json:"channels"`
	Type       DataType  `json:"datatype"`
	AvgTrace   []float64 `json:"avgtrace"`
	DIDVMean   []float64 `json:"didvmean,omitempty"`
	DIDVStd    []float64 `json:"didvstd,omitempty"`
	Offset     float64   `json:"offset"`
	OffsetErr  float64   `json:"offset_err"`
	SampleRate float64   `json:"fs"`
	DriveFreq  float64   `json:"sgfreq"`
	DriveAmp   float64   `json:"sgamp"`
	Freqs      []float64 `json:"f,omitempty"`
	PSD        []float64 `json:"psd,omitempty"`
	CutPass    bool      `json:"cut_pass"`
}

// ReadJSON decodes a JSON array of records.
func ReadJSON(r io.Reader) ([]Record, error) {
	var recs []Record
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, fmt.Errorf("sweep: decode records: %w", err)
	}
	if len(recs) == 0 {
		return nil, ErrEmpty
	}
	return recs, nil
}

// distinctValues counts distinct samples, stopping at limit.
func distinctValues(trace []float64, limit int) int {
	seen := make(map[float64]struct{}, limit)
	for _, v := range trace {
		seen[v] = struct{}{}
		if len(seen) >= limit {
			break
		}
	}
	return len(seen)
}
