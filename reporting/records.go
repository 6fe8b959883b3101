package reporting

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Delimiter separates stat records on the wire.
const Delimiter = '\n'

// ErrMalformedStat is returned when a record is not a JSON object.
var ErrMalformedStat = errors.New("malformed stat record")

// SplitFunc extracts complete records from data and returns them with the
// unconsumed remainder.
type SplitFunc func(data []byte) (records [][]byte, rest []byte)

// EncodeFunc serializes a stat into its wire form, delimiter included.
type EncodeFunc func(stat Stat) ([]byte, error)

// DecodeFunc parses one record, delimiter excluded.
type DecodeFunc func(record []byte) (Stat, error)

// SplitRecords splits data on Delimiter. Every complete record is
// returned; the bytes after the last delimiter form the remainder.
// The returned slices alias data.
func SplitRecords(data []byte) ([][]byte, []byte) {
	var records [][]byte
	for {
		record, rest, found := bytes.Cut(data, []byte{Delimiter})
		if !found {
			return records, data
		}
		records = append(records, record)
		data = rest
	}
}

// EncodeStat encodes stat as a JSON object followed by Delimiter.
func EncodeStat(stat Stat) ([]byte, error) {
	data, err := json.Marshal(stat)
	if err != nil {
		return nil, errors.Wrap(err, "encode stat")
	}
	return append(data, Delimiter), nil
}

// DecodeStat parses record as a JSON object.
func DecodeStat(record []byte) (Stat, error) {
	var stat Stat
	if err := json.Unmarshal(record, &stat); err != nil {
		return nil, errors.Wrap(ErrMalformedStat, err.Error())
	}
	if stat == nil {
		return nil, errors.Wrap(ErrMalformedStat, "null record")
	}
	return stat, nil
}
