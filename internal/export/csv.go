package export

import (
	"encoding/csv"
	"os"
	"strconv"
)

// CSVSaver writes records as CSV with a header row.
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(records []Record, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"ticker", "date", "open", "high", "low", "close", "volume", "turnover"}); err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Write([]string{
			r.Ticker,
			r.Date,
			floatStr(r.Open),
			floatStr(r.High),
			floatStr(r.Low),
			floatStr(r.Close),
			strconv.FormatInt(r.Volume, 10),
			floatStr(r.Turnover),
		}); err != nil {
			return err
		}
	}
	return w.Error()
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
