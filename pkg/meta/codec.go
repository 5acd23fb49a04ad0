package meta

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("meta: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("meta: cbor decoder: " + err.Error())
	}
}

func encodeRecord(rec Record) ([]byte, error) {
	return encMode.Marshal(rec)
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	err := decMode.Unmarshal(data, &rec)
	return rec, err
}
