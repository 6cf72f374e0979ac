package packet

import (
	"errors"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrTooManyLost  = errors.New("packet: too many shards lost to recover")
	ErrBadFECConfig = errors.New("packet: invalid data/parity configuration")
)

// FEC adds Reed-Solomon parity to datagram payloads so a burst of lost
// packets short of the parity count is recoverable without retransmit.
type FEC struct {
	enc    reedsolomon.Encoder
	data   int
	parity int
}

// NewFEC creates a codec with the given shard counts; up to parity
// shards may be lost.
func NewFEC(data, parity int) (*FEC, error) {
	if data <= 0 || parity <= 0 {
		return nil, ErrBadFECConfig
	}
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, err
	}
	return &FEC{enc: enc, data: data, parity: parity}, nil
}

func (f *FEC) DataShards() int   { return f.data }
func (f *FEC) ParityShards() int { return f.parity }
func (f *FEC) TotalShards() int  { return f.data + f.parity }

// EncodeData splits payload into data shards (padded to equal size) and
// computes the parity shards. The result has TotalShards entries.
func (f *FEC) EncodeData(payload []byte) ([][]byte, error) {
	shards, err := f.enc.Split(payload)
	if err != nil {
		return nil, err
	}
	if err := f.enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// Reconstruct fills in missing shards, which callers mark nil.
func (f *FEC) Reconstruct(shards [][]byte) error {
	err := f.enc.Reconstruct(shards)
	if errors.Is(err, reedsolomon.ErrTooFewShards) {
		return ErrTooManyLost
	}
	return err
}

// Join reassembles the original payload of size n from the data shards.
func (f *FEC) Join(shards [][]byte, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for i := 0; i < f.data && len(out) < n; i++ {
		if shards[i] == nil {
			return nil, ErrTooManyLost
		}
		remaining := n - len(out)
		if remaining >= len(shards[i]) {
			out = append(out, shards[i]...)
		} else {
			out = append(out, shards[i][:remaining]...)
		}
	}
	return out, nil
}
