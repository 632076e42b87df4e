package ledger

import (
	"errors"
	"regexp"
	"strconv"
)

// RecoveryParams are the resumption parameters left behind by a
// broadcast-but-unacknowledged write: the sequence number the broadcast
// broke at and the content reference of the pending write.
type RecoveryParams struct {
	BrokeNum   int64
	BeforeHash string
}

// The SDK is documented to emit two textual shapes when it cannot attach
// structured fields. Matching free text is best-effort; keep the patterns
// in this table so they can change without touching the submit flow.
var recoveryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Transaction\s+(\d+)\s+failed,\s*beforeHash:\s*([0-9A-Za-z]+)`),
	regexp.MustCompile(`brokeNum[=:]\s*(\d+)\D+?beforeHash[=:]\s*([0-9A-Za-z]+)`),
}

// ExtractRecovery pulls resumption parameters out of a ledger error.
// Structured fields on *SubmitError win; otherwise the known textual
// formats are tried. Both values are required, a partial match yields
// nothing.
func ExtractRecovery(err error) (RecoveryParams, bool) {
	if err == nil {
		return RecoveryParams{}, false
	}

	var se *SubmitError
	if errors.As(err, &se) && se.BrokeNum != nil && se.BeforeHash != "" {
		return RecoveryParams{BrokeNum: *se.BrokeNum, BeforeHash: se.BeforeHash}, true
	}

	msg := err.Error()
	for _, re := range recoveryPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		n, convErr := strconv.ParseInt(m[1], 10, 64)
		if convErr != nil {
			continue
		}
		return RecoveryParams{BrokeNum: n, BeforeHash: m[2]}, true
	}

	return RecoveryParams{}, false
}
