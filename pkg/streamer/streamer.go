package streamer

import (
	"errors"
	"math/big"
	"time"
)

// Stream is the custodian's view of one linear payout schedule.
type Stream struct {
	ID            string    `json:"id"`
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Deposit       *big.Int  `json:"deposit"`
	Token         string    `json:"token"`
	StartTime     time.Time `json:"start_time"`
	StopTime      time.Time `json:"stop_time"`
	RatePerSecond *big.Int  `json:"rate_per_second"`
}

// Custodian is the continuous-payment collaborator. CreateStream requires the
// deposit to divide evenly over the duration in seconds with a nonzero
// per-second rate. CancelStream is atomic: earned-to-date goes to the
// recipient and the unearned rest returns to the sender.
type Custodian interface {
	CreateStream(sender, recipient string, deposit *big.Int, tokenID string, start, stop time.Time) (string, error)
	CancelStream(caller, streamID string) error
	GetStream(streamID string) (Stream, error)
}

var (
	ErrStreamNotFound     = errors.New("stream does not exist")
	ErrIndivisibleDeposit = errors.New("deposit not divisible by stream duration")
	ErrZeroRate           = errors.New("stream rate per second is zero")
	ErrInvalidWindow      = errors.New("stream stop time not after start time")
)
