package execution

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

// TxLog receives a human readable summary for every submitted transaction.
type TxLog interface {
	Record(hash common.Hash, summary string) error
}

// LogTxLog writes summaries to the telemetry log.
type LogTxLog struct{}

func (LogTxLog) Record(hash common.Hash, summary string) error {
	telemetry.Infof("[txlog] %s %s", hash.Hex(), summary)
	return nil
}

// MultiTxLog fans a record out to every sink; all sinks are tried.
type MultiTxLog []TxLog

func (m MultiTxLog) Record(hash common.Hash, summary string) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Record(hash, summary); err != nil && first == nil {
			first = errors.Wrapf(err, "record %s", hash.Hex())
		}
	}
	return first
}
