// Package export writes stored daily history to flat files. The saver is an
// abstraction over the output format; callers pick one by name and never
// depend on the encoding.
package export

import (
	"strings"

	"stocksync/internal/model"
)

// Record is the flat row written to disk. It deliberately carries plain
// floats: exported files are for analysis tools, not for feeding back into
// the store.
type Record struct {
	Ticker   string  `json:"ticker" parquet:"ticker"`
	Date     string  `json:"date" parquet:"date"`
	Open     float64 `json:"open" parquet:"open"`
	High     float64 `json:"high" parquet:"high"`
	Low      float64 `json:"low" parquet:"low"`
	Close    float64 `json:"close" parquet:"close"`
	Volume   int64   `json:"volume" parquet:"volume"`
	Turnover float64 `json:"turnover,omitempty" parquet:"turnover,optional"`
}

func fromBar(b model.DailyBar) Record {
	return Record{
		Ticker:   b.Ticker,
		Date:     b.Date.Format("2006-01-02"),
		Open:     b.Open.InexactFloat64(),
		High:     b.High.InexactFloat64(),
		Low:      b.Low.InexactFloat64(),
		Close:    b.Close.InexactFloat64(),
		Volume:   b.Volume,
		Turnover: b.Turnover.InexactFloat64(),
	}
}

// PacketSaver persists one ticker's records to a file.
type PacketSaver interface {
	Save(records []Record, path string) error
	Extension() string
}

// NewPacketSaver returns the implementation for a format name, or nil if
// the format is not supported.
func NewPacketSaver(format string) PacketSaver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "json":
		return JSONSaver{}
	case "parquet":
		return ParquetSaver{}
	default:
		return nil
	}
}
